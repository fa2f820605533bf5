package repository

// These tests exercise the raw claim SQL against a real Postgres, which the
// in-memory fakes cannot do. They are skipped unless TEST_DATABASE_DSN points
// at a disposable database (queue_items is truncated between tests).

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openQueueTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}
	if err := db.AutoMigrate(&QueueItemModel{}); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	if err := db.Exec("TRUNCATE TABLE queue_items").Error; err != nil {
		t.Fatalf("truncate queue_items error = %v", err)
	}
	return db
}

func enqueueDueItem(t *testing.T, repo *GormQueueRepo) *domain.QueueItem {
	t.Helper()

	item := &domain.QueueItem{
		ID:             uuid.NewString(),
		NotificationID: uuid.NewString(),
		Channel:        domain.ChannelEmail,
		Priority:       2,
		NextAttemptAt:  time.Now().UTC().Add(-time.Second),
	}
	if err := repo.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return item
}

func TestClaimGrantsAtMostOneLeaseUnderContention(t *testing.T) {
	repo := NewGormQueueRepo(openQueueTestDB(t))
	item := enqueueDueItem(t, repo)

	const workers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []domain.QueueItem
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			items, err := repo.Claim(context.Background(), owner, 1, 30*time.Second)
			if err != nil {
				t.Errorf("Claim(%s) error = %v", owner, err)
				return
			}
			mu.Lock()
			claimed = append(claimed, items...)
			mu.Unlock()
		}(fmt.Sprintf("worker-%d", i))
	}
	wg.Wait()

	if len(claimed) != 1 {
		t.Fatalf("claims granted = %d, want exactly 1", len(claimed))
	}
	if claimed[0].ID != item.ID {
		t.Fatalf("claimed item = %s, want %s", claimed[0].ID, item.ID)
	}
	if claimed[0].AttemptID == "" {
		t.Fatal("claim did not stamp an attempt id")
	}

	if err := repo.Ack(context.Background(), item.ID, uuid.NewString()); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Ack() with foreign attempt id error = %v, want ErrConflict", err)
	}
	if err := repo.Ack(context.Background(), item.ID, claimed[0].AttemptID); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
}

func TestClaimReissuesExpiredLeaseAndFencesOldHolder(t *testing.T) {
	repo := NewGormQueueRepo(openQueueTestDB(t))
	item := enqueueDueItem(t, repo)

	first, err := repo.Claim(context.Background(), "crashed-worker", 1, -time.Second)
	if err != nil {
		t.Fatalf("first Claim() error = %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first claims = %d, want 1", len(first))
	}

	// The lease is already lapsed, so another worker may take over.
	second, err := repo.Claim(context.Background(), "worker-b", 1, 30*time.Second)
	if err != nil {
		t.Fatalf("second Claim() error = %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("second claims = %d, want 1", len(second))
	}
	if second[0].AttemptID == first[0].AttemptID {
		t.Fatal("reclaim must stamp a fresh attempt id")
	}

	// The original holder completing late must not disturb the new claimant.
	err = repo.Requeue(context.Background(), item.ID, first[0].AttemptID, time.Now().UTC())
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Requeue() with lapsed attempt id error = %v, want ErrConflict", err)
	}
	if err := repo.Ack(context.Background(), item.ID, second[0].AttemptID); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
}
