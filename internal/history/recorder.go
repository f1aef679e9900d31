package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/database"
)

// ErrInvalidLimit is returned by Recent for a non-positive limit.
var ErrInvalidLimit = errors.New("history: limit must be positive")

// Entry is one stored capability change.
type Entry struct {
	DeviceID   string
	Capability string
	Value      any
	RecordedAt time.Time
}

// Recorder writes capability changes to the capability_history table.
// The schema comes from the migrations package.
type Recorder struct {
	db *database.DB
}

// Ensure Recorder can be handed to the bridge.
var _ tuya.CapabilityPublisher = (*Recorder)(nil)

// NewRecorder wraps an open, migrated database.
func NewRecorder(db *database.DB) *Recorder {
	return &Recorder{db: db}
}

// PublishCapability implements tuya.CapabilityPublisher.
func (r *Recorder) PublishCapability(ctx context.Context, update tuya.CapabilityUpdate) error {
	value, err := json.Marshal(update.Value)
	if err != nil {
		return fmt.Errorf("history: encoding %s/%s: %w", update.DeviceID, update.Capability, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO capability_history (device_id, capability, value, recorded_at)
		 VALUES (?, ?, ?, ?)`,
		update.DeviceID, update.Capability, string(value), update.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: recording %s/%s: %w", update.DeviceID, update.Capability, err)
	}
	return nil
}

// Recent returns up to limit entries for deviceID, newest first.
func (r *Recorder) Recent(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id, capability, value, recorded_at
		 FROM capability_history
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			raw   string
			milli int64
		)
		if err := rows.Scan(&e.DeviceID, &e.Capability, &raw, &milli); err != nil {
			return nil, fmt.Errorf("history: scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Value); err != nil {
			return nil, fmt.Errorf("history: decoding value: %w", err)
		}
		e.RecordedAt = time.UnixMilli(milli)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating rows: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before cutoff and returns how many went.
func (r *Recorder) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM capability_history WHERE recorded_at < ?",
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("history: pruning: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: pruning: %w", err)
	}
	return n, nil
}

// RunPruner prunes entries older than retention every interval until ctx is
// cancelled. A zero retention disables pruning and returns immediately.
func (r *Recorder) RunPruner(ctx context.Context, retention, interval time.Duration, logger tuya.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := r.Prune(ctx, now.Add(-retention))
			if logger == nil {
				continue
			}
			if err != nil {
				logger.Warn("capability history prune failed", "error", err)
			} else if n > 0 {
				logger.Debug("pruned capability history", "rows", n)
			}
		}
	}
}
