package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertUser(ctx context.Context, db *gorm.DB, user *User) error
	FindUserByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*User, error)
	ListUsersByRole(ctx context.Context, db *gorm.DB, orgID snowflake.ID, role Role, onlyAvailable bool) ([]User, error)
	UpdateAvailability(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, available bool, now time.Time) error

	InsertAddress(ctx context.Context, db *gorm.DB, address *Address) error
	FindAddressByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Address, error)
	FindAddressesByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]Address, error)
	ListAddressesByUser(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) ([]Address, error)
	ClearDefaultAddress(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) error
}
