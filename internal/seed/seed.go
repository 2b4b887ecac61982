package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/dairyroute/internal/config"
	organizationdomain "github.com/smallbiznis/dairyroute/internal/organization/domain"
	organizationrepo "github.com/smallbiznis/dairyroute/internal/organization/repository"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	userrepo "github.com/smallbiznis/dairyroute/internal/user/repository"
	"gorm.io/gorm"
)

// EnsureMainOrg seeds the default tenant and, when a phone is configured,
// its first admin. Running it again changes nothing.
func EnsureMainOrg(ctx context.Context, db *gorm.DB, node *snowflake.Node, cfg config.BootstrapConfig, timezone string) (*organizationdomain.Organization, error) {
	if db == nil {
		return nil, errors.New("seed database handle is required")
	}
	if node == nil {
		return nil, errors.New("seed id generator is required")
	}
	name := strings.TrimSpace(cfg.OrgName)
	if name == "" {
		return nil, errors.New("seed organization name is required")
	}

	orgs := organizationrepo.Provide()
	users := userrepo.Provide()

	var org *organizationdomain.Organization
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orgSlug := slug.Make(name)
		existing, err := orgs.FindBySlug(ctx, tx, orgSlug)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if existing == nil {
			existing = &organizationdomain.Organization{
				ID:           node.Generate(),
				Name:         name,
				Slug:         orgSlug,
				TimezoneName: timezone,
				IsDefault:    true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := orgs.Insert(ctx, tx, existing); err != nil {
				return err
			}
		}
		org = existing

		phone := strings.TrimSpace(cfg.AdminPhone)
		if phone == "" {
			return nil
		}
		var count int64
		if err := tx.WithContext(ctx).
			Model(&userdomain.User{}).
			Where("org_id = ? AND phone = ?", org.ID, phone).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return users.InsertUser(ctx, tx, &userdomain.User{
			ID:        node.Generate(),
			OrgID:     org.ID,
			Name:      strings.TrimSpace(cfg.AdminName),
			Phone:     phone,
			Role:      userdomain.RoleAdmin,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}
