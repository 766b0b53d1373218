package gormmemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fenwick-io/machina/internal/memory"
)

// StaleLockAfter bounds how long a lock can be held before a later
// caller is allowed to steal it — guards against a crashed holder
// wedging a subject forever. It mirrors the stale-running cutoff the
// job-run claim query uses for abandoned work.
const StaleLockAfter = 2 * time.Minute

// Store is a memory.Memory backed by Postgres via GORM.
type Store struct {
	db         *gorm.DB
	instanceID string
}

// New builds a Store. instanceID identifies this process in the
// locked_by column; it has no semantic meaning beyond debugging stuck
// locks.
func New(db *gorm.DB, instanceID string) *Store {
	return &Store{db: db, instanceID: instanceID}
}

// AutoMigrate creates/updates the machine_records table. Exposed for
// callers that don't run migrations through a separate tool.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Row{})
}

func (s *Store) Lock(ctx context.Context, subject string) (bool, error) {
	now := time.Now()
	staleCutoff := now.Add(-StaleLockAfter)

	var acquired bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Row
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("subject = ?", subject).
			First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Brand-new subject: insert a placeholder row already locked
			// by us. A unique-violation here means a concurrent caller won
			// the race; treat it as "not acquired" rather than an error.
			row = Row{Subject: subject, LockedAt: &now, LockedBy: s.instanceID}
			if cerr := tx.Create(&row).Error; cerr != nil {
				return nil // lost the race to create; acquired stays false
			}
			acquired = true
			return nil
		case err != nil:
			return err
		}
		if row.LockedAt != nil && row.LockedAt.After(staleCutoff) {
			return nil // held by someone else, not stale yet
		}
		if uerr := tx.Model(&Row{}).Where("subject = ?", subject).Updates(map[string]interface{}{
			"locked_at": now,
			"locked_by": s.instanceID,
		}).Error; uerr != nil {
			return uerr
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("gormmemory: lock: %w", err)
	}
	return acquired, nil
}

func (s *Store) Unlock(ctx context.Context, subject string) error {
	err := s.db.WithContext(ctx).Model(&Row{}).
		Where("subject = ? AND locked_by = ?", subject, s.instanceID).
		Updates(map[string]interface{}{"locked_at": nil, "locked_by": ""}).Error
	if err != nil {
		return fmt.Errorf("gormmemory: unlock: %w", err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, subject string) (*memory.Record, error) {
	var row Row
	err := s.db.WithContext(ctx).Where("subject = ?", subject).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gormmemory: read: %w", err)
	}
	if row.State == "" {
		// Only the lock placeholder has been created so far; no machine
		// record has ever been written for this subject.
		return nil, nil
	}
	return rowToRecord(&row), nil
}

func (s *Store) Write(ctx context.Context, subject string, record *memory.Record, prev *memory.Record) error {
	if record == nil {
		return fmt.Errorf("gormmemory: write: nil record")
	}
	valueJSON, err := json.Marshal(record.Value)
	if err != nil {
		return fmt.Errorf("gormmemory: write: marshal value: %w", err)
	}
	updates := map[string]interface{}{
		"parent_subject":  record.ParentSubject,
		"status":          record.Status,
		"value":           valueJSON,
		"state":           record.State,
		"init_event_id":   record.InitEventID,
		"events_consumed": record.EventsConsumed,
		"events_produced": record.EventsProduced,
		"machine_version": record.MachineVersion,
	}
	res := s.db.WithContext(ctx).Model(&Row{}).Where("subject = ?", subject).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("gormmemory: write: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		row := Row{Subject: subject}
		row.ParentSubject = record.ParentSubject
		row.Status = record.Status
		row.Value = valueJSON
		row.State = record.State
		row.InitEventID = record.InitEventID
		row.EventsConsumed = record.EventsConsumed
		row.EventsProduced = record.EventsProduced
		row.MachineVersion = record.MachineVersion
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("gormmemory: write: insert: %w", err)
		}
	}
	return nil
}

func rowToRecord(row *Row) *memory.Record {
	var value any
	if len(row.Value) > 0 {
		_ = json.Unmarshal(row.Value, &value)
	}
	return &memory.Record{
		Subject:        row.Subject,
		ParentSubject:  row.ParentSubject,
		Status:         row.Status,
		Value:          value,
		State:          row.State,
		InitEventID:    row.InitEventID,
		EventsConsumed: row.EventsConsumed,
		EventsProduced: row.EventsProduced,
		MachineVersion: row.MachineVersion,
	}
}
