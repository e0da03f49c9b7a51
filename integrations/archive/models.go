package archive

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"trustlance/core/events"
	"trustlance/core/types"
)

// EventRecord is one committed escrow event as persisted by the archive.
type EventRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence    uint64    `gorm:"uniqueIndex;not null"`
	Type        string    `gorm:"index;not null"`
	EscrowID    uint64    `gorm:"index"`
	Attributes  string    `gorm:"type:text;not null"`
	CommittedAt time.Time `gorm:"index"`
	CreatedAt   time.Time
}

func (EventRecord) TableName() string { return "escrow_events" }

// BeforeCreate assigns a random id to rows that do not carry one.
func (r *EventRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Event decodes the stored attributes back into an event.
func (r *EventRecord) Event() (*types.Event, error) {
	attrs := make(map[string]string)
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, err
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

func recordFromEnvelope(env events.Envelope) (*EventRecord, error) {
	rec := &EventRecord{Sequence: env.Sequence, CommittedAt: env.Timestamp.UTC()}
	if env.Event == nil {
		rec.Attributes = "{}"
		return rec, nil
	}
	rec.Type = env.Event.Type
	if id, err := strconv.ParseUint(env.Event.Attributes["id"], 10, 64); err == nil {
		rec.EscrowID = id
	}
	raw, err := json.Marshal(env.Event.Attributes)
	if err != nil {
		return nil, err
	}
	rec.Attributes = string(raw)
	return rec, nil
}

// AutoMigrate creates or updates the archive schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{})
}
