package db

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/pkg/db/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := "file:batch_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.Warehouse{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return FromConn(conn)
}

func TestBatchRunsStatementsInOrder(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ctx := context.Background()

	var batch Batch
	batch.Add(func(tx *gorm.DB) error {
		return tx.Create(&models.Warehouse{Name: "main"}).Error
	})
	batch.Add(func(tx *gorm.DB) error {
		// observes the effect of the previous statement
		var count int64
		if err := tx.Model(&models.Warehouse{}).Count(&count).Error; err != nil {
			return err
		}
		if count != 1 {
			t.Fatalf("expected statement 2 to see statement 1's insert, count=%d", count)
		}
		return nil
	})

	if err := client.Run(ctx, &batch); err != nil {
		t.Fatalf("run batch: %v", err)
	}
}

func TestBatchGuardFailureRollsBackEverything(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ctx := context.Background()

	var batch Batch
	batch.Add(func(tx *gorm.DB) error {
		return tx.Create(&models.Warehouse{Name: "main"}).Error
	})
	batch.Add(GuardRowsAffected(1, func(tx *gorm.DB) *gorm.DB {
		// CAS against a state that does not exist
		return tx.Model(&models.Warehouse{}).Where("name = ?", "missing").Update("remark", "x")
	}))

	err := client.Run(ctx, &batch)
	if !errors.Is(err, ErrGuardFailed) {
		t.Fatalf("expected guard failure, got %v", err)
	}

	var count int64
	if err := client.DB().Model(&models.Warehouse{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("guard failure must leave no partial effects, count=%d", count)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	if err := client.DB().Create(&models.Warehouse{Name: "dup"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := client.DB().Create(&models.Warehouse{Name: "dup"}).Error
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if !IsUniqueViolation(err, "") {
		t.Fatalf("IsUniqueViolation did not recognize %v", err)
	}
}
