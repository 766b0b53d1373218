// Package gormmemory is a Postgres-backed memory.Memory implementation,
// grounded on the same row-locking idiom the job-run repository uses to
// claim runnable work: a SELECT ... FOR UPDATE SKIP LOCKED guard around
// a compare-and-set on a locked_at column, so two Controllers racing on
// the same subject never both believe they hold the lock.
package gormmemory

import (
	"time"

	"gorm.io/datatypes"
)

// Row is the GORM model backing one subject's persisted record and its
// lock state. Value is stored as jsonb so it can be inspected with plain
// SQL; State carries the opaque base64(zlib(JSON)) snapshot.
type Row struct {
	Subject        string `gorm:"primaryKey;size:512"`
	ParentSubject  string `gorm:"size:512;index"`
	Status         string `gorm:"size:64;index"`
	Value          datatypes.JSON
	State          string `gorm:"type:text"`
	InitEventID    string `gorm:"size:128"`
	EventsConsumed int
	EventsProduced int
	MachineVersion string `gorm:"size:32"`

	LockedAt  *time.Time
	LockedBy  string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Row) TableName() string { return "machine_records" }
