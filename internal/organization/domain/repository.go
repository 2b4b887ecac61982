package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, org *Organization) error
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Organization, error)
	// ListIDs returns every tenant id in ascending order.
	ListIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
}
