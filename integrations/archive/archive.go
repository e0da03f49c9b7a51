package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"trustlance/core/events"
)

const (
	defaultRetryElapsed = 30 * time.Second
	defaultListLimit    = 100
	maxListLimit        = 1000
)

// Open connects to the archive database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return db, nil
}

// Archive persists committed escrow events so they can be queried and
// exported after the bus has moved on.
type Archive struct {
	db         *gorm.DB
	logger     *slog.Logger
	maxElapsed time.Duration
}

func New(db *gorm.DB, log *slog.Logger) *Archive {
	if log == nil {
		log = slog.Default()
	}
	return &Archive{db: db, logger: log, maxElapsed: defaultRetryElapsed}
}

// WithRetryWindow bounds how long a single write is retried.
func (a *Archive) WithRetryWindow(d time.Duration) *Archive {
	if d > 0 {
		a.maxElapsed = d
	}
	return a
}

// Store writes one envelope. Writing the same sequence twice is a no-op.
// Transient failures are retried with exponential backoff.
func (a *Archive) Store(ctx context.Context, env events.Envelope) error {
	rec, err := recordFromEnvelope(env)
	if err != nil {
		return fmt.Errorf("archive: encode event %d: %w", env.Sequence, err)
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = a.maxElapsed
	op := func() error {
		err := a.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "sequence"}}, DoNothing: true}).
			Create(rec).Error
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Warn("archive write failed, retrying",
			slog.Uint64("sequence", env.Sequence),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))
	}
	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}

// Run archives every envelope received on sub until ctx is done or the
// subscription is closed.
func (a *Archive) Run(ctx context.Context, sub *events.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := a.Store(ctx, env); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				a.logger.Error("archive dropped event",
					slog.Uint64("sequence", env.Sequence),
					slog.String("error", err.Error()))
			}
		}
	}
}

// LastSequence returns the highest archived sequence, or 0 when empty.
func (a *Archive) LastSequence(ctx context.Context) (uint64, error) {
	var rec EventRecord
	err := a.db.WithContext(ctx).Order("sequence desc").Limit(1).Find(&rec).Error
	if err != nil {
		return 0, err
	}
	return rec.Sequence, nil
}

// Query filters archived events. Zero fields match everything.
type Query struct {
	EscrowID uint64
	Type     string
	// AfterSequence returns only events with a larger sequence number.
	AfterSequence uint64
	Limit         int
}

// List returns matching events ordered by sequence.
func (a *Archive) List(ctx context.Context, q Query) ([]EventRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	tx := a.db.WithContext(ctx).Model(&EventRecord{}).Where("sequence > ?", q.AfterSequence)
	if q.EscrowID != 0 {
		tx = tx.Where("escrow_id = ?", q.EscrowID)
	}
	if t := strings.TrimSpace(q.Type); t != "" {
		tx = tx.Where("type = ?", t)
	}
	var out []EventRecord
	if err := tx.Order("sequence asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
