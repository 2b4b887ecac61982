package events

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/pkg/telemetry/correlation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is what services hand to the outbox.
type Event struct {
	OrgID     snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

type Outbox struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(genID *snowflake.Node, clk clock.Clock) *Outbox {
	return &Outbox{genID: genID, clock: clk}
}

// PublishTx stores the event on tx. Events sharing a dedupe key within an
// organization are written once.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if o == nil {
		return nil
	}

	payload := datatypes.JSONMap{}
	for k, v := range event.Payload {
		payload[k] = v
	}
	if id := correlation.ExtractCorrelationID(ctx); id != "" {
		payload["correlation_id"] = id
	}

	var dedupe *string
	if key := strings.TrimSpace(event.DedupeKey); key != "" {
		dedupe = &key
	}

	return tx.WithContext(ctx).Exec(
		`INSERT INTO domain_events (id, org_id, event_type, payload, dedupe_key, attempts, published, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (org_id, dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		event.OrgID,
		event.Type,
		payload,
		dedupe,
		false,
		o.clock.Now(),
	).Error
}
