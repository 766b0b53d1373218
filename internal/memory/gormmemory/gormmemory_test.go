package gormmemory

import (
	"context"
	"os"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/fenwick-io/machina/internal/memory"
)

// testDB skips the test unless TEST_POSTGRES_DSN is set, the same gate
// repo integration tests use elsewhere in the corpus.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run gormmemory integration tests")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := testDB(t)
	s := New(db, "test-instance")
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return s
}

func cleanupSubject(t *testing.T, s *Store, subject string) {
	t.Helper()
	t.Cleanup(func() {
		s.db.Where("subject = ?", subject).Delete(&Row{})
	})
}

func TestLockAcquiresForNewSubject(t *testing.T) {
	s := newTestStore(t)
	subject := "subject-" + t.Name()
	cleanupSubject(t, s, subject)

	ok, err := s.Lock(context.Background(), subject)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !ok {
		t.Fatal("expected lock to be acquired on a brand-new subject")
	}
}

func TestLockRejectsConcurrentHolder(t *testing.T) {
	s := newTestStore(t)
	subject := "subject-" + t.Name()
	cleanupSubject(t, s, subject)

	if ok, err := s.Lock(context.Background(), subject); err != nil || !ok {
		t.Fatalf("first Lock: ok=%v err=%v", ok, err)
	}
	other := New(s.db, "other-instance")
	ok, err := other.Lock(context.Background(), subject)
	if err != nil {
		t.Fatalf("second Lock: %v", err)
	}
	if ok {
		t.Fatal("expected second caller to be denied the lock")
	}
}

func TestLockReclaimedAfterStaleCutoff(t *testing.T) {
	s := newTestStore(t)
	subject := "subject-" + t.Name()
	cleanupSubject(t, s, subject)

	if ok, err := s.Lock(context.Background(), subject); err != nil || !ok {
		t.Fatalf("first Lock: ok=%v err=%v", ok, err)
	}
	stale := time.Now().Add(-StaleLockAfter - time.Minute)
	if err := s.db.Model(&Row{}).Where("subject = ?", subject).Update("locked_at", stale).Error; err != nil {
		t.Fatalf("backdating lock: %v", err)
	}

	other := New(s.db, "other-instance")
	ok, err := other.Lock(context.Background(), subject)
	if err != nil {
		t.Fatalf("reclaim Lock: %v", err)
	}
	if !ok {
		t.Fatal("expected a stale lock to be reclaimable")
	}
}

func TestUnlockOnlyReleasesOwnLock(t *testing.T) {
	s := newTestStore(t)
	subject := "subject-" + t.Name()
	cleanupSubject(t, s, subject)

	if ok, err := s.Lock(context.Background(), subject); err != nil || !ok {
		t.Fatalf("Lock: ok=%v err=%v", ok, err)
	}
	other := New(s.db, "other-instance")
	if err := other.Unlock(context.Background(), subject); err != nil {
		t.Fatalf("Unlock (non-owner): %v", err)
	}
	// Non-owner unlock must be a no-op: the original holder still can't be
	// reclaimed by a third party before the stale cutoff.
	third := New(s.db, "third-instance")
	ok, err := third.Lock(context.Background(), subject)
	if err != nil {
		t.Fatalf("Lock (third): %v", err)
	}
	if ok {
		t.Fatal("expected the lock to still be held after a non-owner Unlock")
	}

	if err := s.Unlock(context.Background(), subject); err != nil {
		t.Fatalf("Unlock (owner): %v", err)
	}
	ok, err = third.Lock(context.Background(), subject)
	if err != nil {
		t.Fatalf("Lock (after owner unlock): %v", err)
	}
	if !ok {
		t.Fatal("expected the lock to be free after the owner unlocks")
	}
}

func TestReadReturnsNilForUnwrittenSubject(t *testing.T) {
	s := newTestStore(t)
	subject := "subject-" + t.Name()
	cleanupSubject(t, s, subject)

	if _, err := s.Lock(context.Background(), subject); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	rec, err := s.Read(context.Background(), subject)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for a lock-only placeholder row, got %+v", rec)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	subject := "subject-" + t.Name()
	cleanupSubject(t, s, subject)

	rec := &memory.Record{
		Subject:        subject,
		Status:         "active",
		Value:          "awaitingPayment",
		State:          "encoded-snapshot",
		InitEventID:    "e1",
		EventsConsumed: 1,
		MachineVersion: "1.0.0",
	}
	if err := s.Write(context.Background(), subject, rec, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(context.Background(), subject)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got == nil || got.Status != "active" || got.State != "encoded-snapshot" || got.EventsConsumed != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
