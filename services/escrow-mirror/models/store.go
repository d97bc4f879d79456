package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nervix/rpc"
)

const eventCursor = "events"

// Store persists mirror state.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB { return s.db }

// LatestSnapshot returns the most recent snapshot, or nil when none exists.
func (s *Store) LatestSnapshot(ctx context.Context) (*ScheduleSnapshot, error) {
	var snap ScheduleSnapshot
	err := s.db.WithContext(ctx).Order("id desc").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshotIfChanged writes snap unless it matches the latest stored
// snapshot. It reports whether a row was written.
func (s *Store) SaveSnapshotIfChanged(ctx context.Context, snap ScheduleSnapshot) (bool, error) {
	latest, err := s.LatestSnapshot(ctx)
	if err != nil {
		return false, err
	}
	if latest != nil && latest.SameState(snap) {
		return false, nil
	}
	snap.ID = 0
	if err := s.db.WithContext(ctx).Create(&snap).Error; err != nil {
		return false, err
	}
	return true, nil
}

// EventCursor returns the next event sequence to fetch.
func (s *Store) EventCursor(ctx context.Context) (uint64, error) {
	var cur Cursor
	err := s.db.WithContext(ctx).Where("name = ?", eventCursor).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cur.Value, nil
}

// AppendEvents stores relayed events and advances the cursor in a single
// transaction. Already-stored sequences are ignored.
func (s *Store) AppendEvents(ctx context.Context, evts []rpc.EventJSON, observedAt time.Time) error {
	if len(evts) == 0 {
		return nil
	}
	rows := make([]LedgerEvent, 0, len(evts))
	next := uint64(0)
	for _, evt := range evts {
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
		row := LedgerEvent{Seq: evt.Seq, Type: evt.Type, Attributes: string(attrs), ObservedAt: observedAt}
		if raw, ok := evt.Attributes["id"]; ok {
			if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
				v := uint32(id)
				row.EscrowID = &v
			}
		}
		rows = append(rows, row)
		if evt.Seq+1 > next {
			next = evt.Seq + 1
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&Cursor{Name: eventCursor, Value: next}).Error
	})
}

// EventsSince returns stored events with sequence >= from in order.
func (s *Store) EventsSince(ctx context.Context, from uint64, limit int) ([]rpc.EventJSON, error) {
	var rows []LedgerEvent
	q := s.db.WithContext(ctx).Where("seq >= ?", from).Order("seq asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rpc.EventJSON, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("decode event %d: %w", row.Seq, err)
			}
		}
		out = append(out, rpc.EventJSON{Seq: row.Seq, Type: row.Type, Attributes: attrs})
	}
	return out, nil
}

// RecordPreview appends a preview audit row.
func (s *Store) RecordPreview(ctx context.Context, audit PreviewAudit) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&audit).Error
}
