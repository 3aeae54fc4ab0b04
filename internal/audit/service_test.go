package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/pinebranch/filevault/internal/faults"
)

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:audit_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct audit service: %v", err)
	}
	return service, db
}

func TestRecordPersistsEntry(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }
	service, db := newTestService(t, clock)

	service.Record(context.Background(), Event{
		ActorID:    7,
		Action:     ActionFileUpload,
		TargetType: TargetFile,
		TargetID:   42,
		Details:    "report.pdf",
	})

	var entry Entry
	if err := db.Take(&entry).Error; err != nil {
		t.Fatalf("expected a persisted entry: %v", err)
	}
	if entry.ActorID != 7 || entry.Action != ActionFileUpload || entry.TargetID != 42 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if !entry.CreatedAt.Equal(clock()) {
		t.Fatalf("expected clock timestamp, got %v", entry.CreatedAt)
	}
}

func TestRecordSwallowsSinkFailure(t *testing.T) {
	service, db := newTestService(t, nil)

	// Dropping the table makes every insert fail.
	if err := db.Migrator().DropTable(&Entry{}); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	// Must not panic and must not surface the failure.
	service.Record(context.Background(), Event{ActorID: 1, Action: ActionFileDelete})
}

func seedEntries(t *testing.T, service *Service) {
	t.Helper()
	events := []Event{
		{ActorID: 1, Action: ActionFileUpload, TargetType: TargetFile, TargetID: 1},
		{ActorID: 1, Action: ActionBackupCreate, TargetType: TargetBackup, TargetID: 2},
		{ActorID: 2, Action: ActionFileUpload, TargetType: TargetFile, TargetID: 3},
		{ActorID: 2, Action: ActionTagCreate, TargetType: TargetTag, TargetID: 4},
	}
	for _, event := range events {
		service.Record(context.Background(), event)
	}
}

func TestListFiltersByActorAndAction(t *testing.T) {
	service, _ := newTestService(t, nil)
	seedEntries(t, service)

	byActor, err := service.List(context.Background(), ListFilter{ActorID: 1}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byActor.Total != 2 {
		t.Fatalf("expected 2 entries for actor 1, got %d", byActor.Total)
	}

	byAction, err := service.List(context.Background(), ListFilter{Action: ActionFileUpload}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byAction.Total != 2 {
		t.Fatalf("expected 2 upload entries, got %d", byAction.Total)
	}

	combined, err := service.List(context.Background(), ListFilter{ActorID: 2, TargetType: TargetTag}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if combined.Total != 1 || combined.Entries[0].TargetID != 4 {
		t.Fatalf("unexpected combined filter result: %+v", combined.Entries)
	}
}

func TestListFiltersByTimeWindow(t *testing.T) {
	current := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return current }
	service, _ := newTestService(t, clock)

	for i := 0; i < 3; i++ {
		service.Record(context.Background(), Event{ActorID: 1, Action: ActionFileUpload, TargetID: uint64(i + 1)})
		current = current.Add(time.Hour)
	}

	window, err := service.List(context.Background(), ListFilter{
		From: time.Unix(1700000000, 0).UTC().Add(30 * time.Minute),
		To:   time.Unix(1700000000, 0).UTC().Add(90 * time.Minute),
	}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if window.Total != 1 || window.Entries[0].TargetID != 2 {
		t.Fatalf("expected only the middle entry, got %+v", window.Entries)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	current := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time { return current }
	service, _ := newTestService(t, clock)

	for i := 0; i < 5; i++ {
		service.Record(context.Background(), Event{ActorID: 1, Action: ActionFileUpload, TargetID: uint64(i + 1)})
		current = current.Add(time.Minute)
	}

	page, err := service.List(context.Background(), ListFilter{}, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 5 {
		t.Fatalf("expected total 5, got %d", page.Total)
	}
	if len(page.Entries) != 2 || page.Entries[0].TargetID != 5 || page.Entries[1].TargetID != 4 {
		t.Fatalf("expected newest first, got %+v", page.Entries)
	}
}

func TestListRejectsInvalidPaging(t *testing.T) {
	service, _ := newTestService(t, nil)
	if _, err := service.List(context.Background(), ListFilter{}, 0, 10); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
