package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DomainEvent is an outbox row written in the same transaction as the state
// change it describes.
type DomainEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_domain_events_dedupe,priority:1" json:"organization_id"`
	EventType   string            `gorm:"type:text;not null;index" json:"event_type"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null" json:"payload"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_domain_events_dedupe,priority:2" json:"dedupe_key,omitempty"`
	Attempts    int               `gorm:"not null;default:0" json:"attempts"`
	LastError   *string           `gorm:"type:text" json:"last_error,omitempty"`
	Published   bool              `gorm:"not null;default:false;index" json:"published"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
}

func (DomainEvent) TableName() string { return "domain_events" }

// String reads a payload field as a string.
func (e DomainEvent) String(key string) string {
	if e.Payload == nil {
		return ""
	}
	value, _ := e.Payload[key].(string)
	return value
}

// SnowflakeID reads a payload field as a snowflake id.
func (e DomainEvent) SnowflakeID(key string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(e.String(key))
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
