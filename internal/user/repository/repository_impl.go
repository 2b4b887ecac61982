package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const userColumns = `id, org_id, name, phone, email, role, is_active, is_available, created_at, updated_at`

const addressColumns = `id, org_id, user_id, label, line1, line2, city, pincode, lat, lng, is_default, created_at, updated_at`

func (r *repo) InsertUser(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.OrgID,
		user.Name,
		user.Phone,
		user.Email,
		user.Role,
		user.IsActive,
		user.IsAvailable,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repo) FindUserByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+` FROM users WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) ListUsersByRole(ctx context.Context, db *gorm.DB, orgID snowflake.ID, role domain.Role, onlyAvailable bool) ([]domain.User, error) {
	var users []domain.User
	stmt := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("org_id = ? AND role = ? AND is_active = ?", orgID, role, true)
	if onlyAvailable {
		stmt = stmt.Where("is_available = ?", true)
	}
	if err := stmt.Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) UpdateAvailability(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, available bool, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users SET is_available = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		available,
		now,
		orgID,
		id,
	).Error
}

func (r *repo) InsertAddress(ctx context.Context, db *gorm.DB, address *domain.Address) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO addresses (`+addressColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		address.ID,
		address.OrgID,
		address.UserID,
		address.Label,
		address.Line1,
		address.Line2,
		address.City,
		address.Pincode,
		address.Lat,
		address.Lng,
		address.IsDefault,
		address.CreatedAt,
		address.UpdatedAt,
	).Error
}

func (r *repo) FindAddressByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Address, error) {
	var address domain.Address
	err := db.WithContext(ctx).Raw(
		`SELECT `+addressColumns+` FROM addresses WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&address).Error
	if err != nil {
		return nil, err
	}
	if address.ID == 0 {
		return nil, nil
	}
	return &address, nil
}

func (r *repo) FindAddressesByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]domain.Address, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var addresses []domain.Address
	err := db.WithContext(ctx).Raw(
		`SELECT `+addressColumns+` FROM addresses WHERE org_id = ? AND id IN ?`,
		orgID,
		ids,
	).Scan(&addresses).Error
	return addresses, err
}

func (r *repo) ListAddressesByUser(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) ([]domain.Address, error) {
	var addresses []domain.Address
	err := db.WithContext(ctx).Raw(
		`SELECT `+addressColumns+` FROM addresses WHERE org_id = ? AND user_id = ?
		 ORDER BY is_default DESC, created_at ASC`,
		orgID,
		userID,
	).Scan(&addresses).Error
	return addresses, err
}

func (r *repo) ClearDefaultAddress(ctx context.Context, db *gorm.DB, orgID, userID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE addresses SET is_default = ? WHERE org_id = ? AND user_id = ? AND is_default = ?`,
		false,
		orgID,
		userID,
		true,
	).Error
}
