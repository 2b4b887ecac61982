package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/geo"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

type User struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index;uniqueIndex:ux_users_org_phone,priority:1" json:"organization_id"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	Phone       string       `gorm:"type:text;not null;uniqueIndex:ux_users_org_phone,priority:2" json:"phone"`
	Email       *string      `gorm:"type:text" json:"email,omitempty"`
	Role        Role         `gorm:"type:text;not null" json:"role"`
	IsActive    bool         `gorm:"not null;default:true" json:"is_active"`
	IsAvailable bool         `gorm:"not null;default:false" json:"is_available"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

type Address struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"organization_id"`
	UserID    snowflake.ID `gorm:"not null;index" json:"user_id"`
	Label     string       `gorm:"type:text" json:"label,omitempty"`
	Line1     string       `gorm:"type:text;not null" json:"line1"`
	Line2     *string      `gorm:"type:text" json:"line2,omitempty"`
	City      string       `gorm:"type:text;not null" json:"city"`
	Pincode   string       `gorm:"type:text;not null" json:"pincode"`
	Lat       *float64     `json:"lat,omitempty"`
	Lng       *float64     `json:"lng,omitempty"`
	IsDefault bool         `gorm:"not null;default:false" json:"is_default"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Address) TableName() string { return "addresses" }

// Point returns the address coordinates when both are known.
func (a Address) Point() (geo.Point, bool) {
	if a.Lat == nil || a.Lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *a.Lat, Lng: *a.Lng}, true
}

// FullText is the single-line form handed to the geocoder.
func (a Address) FullText() string {
	text := a.Line1
	if a.Line2 != nil && *a.Line2 != "" {
		text += ", " + *a.Line2
	}
	return text + ", " + a.City + " " + a.Pincode
}
