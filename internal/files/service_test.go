package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"github.com/pinebranch/filevault/internal/auth"
	"github.com/pinebranch/filevault/internal/faults"
	"github.com/pinebranch/filevault/internal/storage"
	"github.com/pinebranch/filevault/internal/tags"
)

type testHarness struct {
	service *Service
	tags    *tags.Service
	db      *gorm.DB
	blobs   *storage.DiskStore
}

func newTestHarness(t *testing.T, maxUploadBytes int64) testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:files_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&File{}, &tags.Tag{}, &tags.FileTag{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	blobs, err := storage.NewDiskStore(storage.DiskStoreConfig{
		Filesystem: afero.NewMemMapFs(),
		Root:       "blobs",
	})
	if err != nil {
		t.Fatalf("failed to construct blob store: %v", err)
	}

	tagService, err := tags.NewService(tags.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct tag service: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }
	service, err := NewService(ServiceConfig{
		Database:       db,
		Blobs:          blobs,
		Tags:           tagService,
		Clock:          clock,
		MaxUploadBytes: maxUploadBytes,
	})
	if err != nil {
		t.Fatalf("failed to construct file service: %v", err)
	}
	return testHarness{service: service, tags: tagService, db: db, blobs: blobs}
}

func mustUpload(t *testing.T, h testHarness, principal auth.Principal, name, content string) File {
	t.Helper()
	record, err := h.service.Upload(context.Background(), principal, name, strings.NewReader(content))
	if err != nil {
		t.Fatalf("failed to upload %s: %v", name, err)
	}
	return record
}

func TestUploadRegistersMetadata(t *testing.T) {
	h := newTestHarness(t, 0)
	principal := auth.Principal{UserID: 7}

	record := mustUpload(t, h, principal, "  Quarterly Report.PDF  ", "hello world")

	if record.DisplayName != "Quarterly Report.PDF" {
		t.Fatalf("expected trimmed display name, got %q", record.DisplayName)
	}
	if record.Extension != ".pdf" {
		t.Fatalf("expected lowercased extension, got %q", record.Extension)
	}
	if record.SizeBytes != int64(len("hello world")) {
		t.Fatalf("expected size %d, got %d", len("hello world"), record.SizeBytes)
	}
	if record.OwnerID != principal.UserID {
		t.Fatalf("expected owner %d, got %d", principal.UserID, record.OwnerID)
	}
	if !h.blobs.Exists(context.Background(), record.StorageKey) {
		t.Fatalf("expected blob to exist under %s", record.StorageKey)
	}
}

func TestUploadRejectsEmptyContent(t *testing.T) {
	h := newTestHarness(t, 0)

	_, err := h.service.Upload(context.Background(), auth.Principal{UserID: 1}, "empty.txt", strings.NewReader(""))
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if code := faults.CodeOf(err); code != "files.upload.empty_content" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestUploadRejectsBlankName(t *testing.T) {
	h := newTestHarness(t, 0)
	_, err := h.service.Upload(context.Background(), auth.Principal{UserID: 1}, "   ", strings.NewReader("x"))
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUploadRejectsOversizeContent(t *testing.T) {
	h := newTestHarness(t, 8)

	_, err := h.service.Upload(context.Background(), auth.Principal{UserID: 1}, "big.bin", strings.NewReader("123456789"))
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if code := faults.CodeOf(err); code != "files.upload.oversize_content" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestUploadAcceptsContentAtLimit(t *testing.T) {
	h := newTestHarness(t, 8)

	record := mustUpload(t, h, auth.Principal{UserID: 1}, "fits.bin", "12345678")
	if record.SizeBytes != 8 {
		t.Fatalf("expected 8 bytes, got %d", record.SizeBytes)
	}
}

func TestDeleteHidesFileFromLookup(t *testing.T) {
	h := newTestHarness(t, 0)
	principal := auth.Principal{UserID: 1}
	record := mustUpload(t, h, principal, "gone.txt", "payload")

	if err := h.service.Delete(context.Background(), principal, record.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := h.service.GetByID(context.Background(), principal, record.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := h.service.Download(context.Background(), principal, record.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected download to fail after delete, got %v", err)
	}
	// The tombstone keeps the row; only visibility changes.
	var stored File
	if err := h.db.Where("id = ?", record.ID).Take(&stored).Error; err != nil {
		t.Fatalf("expected row to survive: %v", err)
	}
	if !stored.IsDeleted {
		t.Fatalf("expected tombstone flag to be set")
	}
}

func TestSecondDeleteReportsNotFound(t *testing.T) {
	h := newTestHarness(t, 0)
	principal := auth.Principal{UserID: 1}
	record := mustUpload(t, h, principal, "twice.txt", "payload")

	if err := h.service.Delete(context.Background(), principal, record.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.service.Delete(context.Background(), principal, record.ID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found on repeat delete, got %v", err)
	}
}

func TestForeignFileIsForbidden(t *testing.T) {
	h := newTestHarness(t, 0)
	owner := auth.Principal{UserID: 1}
	intruder := auth.Principal{UserID: 2}
	record := mustUpload(t, h, owner, "private.txt", "secret")

	if _, err := h.service.GetByID(context.Background(), intruder, record.ID); !errors.Is(err, faults.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := h.service.Delete(context.Background(), intruder, record.ID); !errors.Is(err, faults.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := h.service.Download(context.Background(), intruder, record.ID); !errors.Is(err, faults.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAdminMayAccessForeignFile(t *testing.T) {
	h := newTestHarness(t, 0)
	owner := auth.Principal{UserID: 1}
	admin := auth.Principal{UserID: 9, Role: auth.RoleAdmin}
	record := mustUpload(t, h, owner, "shared.txt", "contents")

	fetched, err := h.service.GetByID(context.Background(), admin, record.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched.ID != record.ID {
		t.Fatalf("unexpected file %d", fetched.ID)
	}
}

func TestDownloadStreamsStoredBytes(t *testing.T) {
	h := newTestHarness(t, 0)
	principal := auth.Principal{UserID: 1}
	record := mustUpload(t, h, principal, "notes.txt", "the stored payload")

	result, err := h.service.Download(context.Background(), principal, record.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer result.Content.Close()

	fetched, err := io.ReadAll(result.Content)
	if err != nil {
		t.Fatalf("failed to read content: %v", err)
	}
	if !bytes.Equal(fetched, []byte("the stored payload")) {
		t.Fatalf("content mismatch: %q", fetched)
	}
	if result.DisplayName != "notes.txt" || result.SizeBytes != int64(len("the stored payload")) {
		t.Fatalf("unexpected metadata: %+v", result)
	}
}

func TestDownloadReportsMissingBlob(t *testing.T) {
	h := newTestHarness(t, 0)
	principal := auth.Principal{UserID: 1}
	record := mustUpload(t, h, principal, "lost.txt", "payload")

	// Detach the blob from the catalog row.
	if err := h.db.Model(&File{}).Where("id = ?", record.ID).Update("storage_key", "no-such-key").Error; err != nil {
		t.Fatalf("failed to reassign key: %v", err)
	}

	_, err := h.service.Download(context.Background(), principal, record.ID)
	if !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if code := faults.CodeOf(err); code != "files.download.blob_missing" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	h := newTestHarness(t, 0)
	principal := auth.Principal{UserID: 1}

	for i := 1; i <= 5; i++ {
		record := mustUpload(t, h, principal, fmt.Sprintf("doc-%d.txt", i), "payload")
		created := time.Unix(1700000000+int64(i)*60, 0).UTC()
		if err := h.db.Model(&File{}).Where("id = ?", record.ID).Update("created_at", created).Error; err != nil {
			t.Fatalf("failed to stagger timestamps: %v", err)
		}
	}

	first, err := h.service.List(context.Background(), principal, ListFilter{}, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Total != 5 {
		t.Fatalf("expected total 5, got %d", first.Total)
	}
	if len(first.Files) != 2 || first.Files[0].DisplayName != "doc-5.txt" || first.Files[1].DisplayName != "doc-4.txt" {
		t.Fatalf("unexpected first page: %+v", first.Files)
	}

	last, err := h.service.List(context.Background(), principal, ListFilter{}, 3, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(last.Files) != 1 || last.Files[0].DisplayName != "doc-1.txt" {
		t.Fatalf("unexpected last page: %+v", last.Files)
	}
}

func TestListRejectsInvalidPaging(t *testing.T) {
	h := newTestHarness(t, 0)
	principal := auth.Principal{UserID: 1}

	if _, err := h.service.List(context.Background(), principal, ListFilter{}, 0, 10); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for page 0, got %v", err)
	}
	if _, err := h.service.List(context.Background(), principal, ListFilter{}, 1, 0); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for page size 0, got %v", err)
	}
}

func TestListScopesRegularPrincipalToOwnFiles(t *testing.T) {
	h := newTestHarness(t, 0)
	first := auth.Principal{UserID: 1}
	second := auth.Principal{UserID: 2}
	mustUpload(t, h, first, "mine.txt", "payload")
	mustUpload(t, h, second, "theirs.txt", "payload")

	// A regular caller cannot widen the scope by supplying a foreign owner.
	foreign := second.UserID
	result, err := h.service.List(context.Background(), first, ListFilter{OwnerID: &foreign}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 1 || result.Files[0].DisplayName != "mine.txt" {
		t.Fatalf("expected caller's own files only, got %+v", result.Files)
	}
}

func TestListAdminMaySpanOwners(t *testing.T) {
	h := newTestHarness(t, 0)
	mustUpload(t, h, auth.Principal{UserID: 1}, "one.txt", "payload")
	mustUpload(t, h, auth.Principal{UserID: 2}, "two.txt", "payload")
	admin := auth.Principal{UserID: 9, Role: auth.RoleAdmin}

	all, err := h.service.List(context.Background(), admin, ListFilter{}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if all.Total != 2 {
		t.Fatalf("expected both owners' files, got %d", all.Total)
	}

	scope := uint64(2)
	scoped, err := h.service.List(context.Background(), admin, ListFilter{OwnerID: &scope}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scoped.Total != 1 || scoped.Files[0].DisplayName != "two.txt" {
		t.Fatalf("expected the scoped owner's file, got %+v", scoped.Files)
	}
}

func TestListOmitsDeletedFiles(t *testing.T) {
	h := newTestHarness(t, 0)
	principal := auth.Principal{UserID: 1}
	keep := mustUpload(t, h, principal, "keep.txt", "payload")
	drop := mustUpload(t, h, principal, "drop.txt", "payload")

	if err := h.service.Delete(context.Background(), principal, drop.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := h.service.List(context.Background(), principal, ListFilter{}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 1 || result.Files[0].ID != keep.ID {
		t.Fatalf("expected only the live file, got %+v", result.Files)
	}
}

func TestListFiltersByTypeKeywordAndTag(t *testing.T) {
	h := newTestHarness(t, 0)
	principal := auth.Principal{UserID: 1}

	report := mustUpload(t, h, principal, "annual report.pdf", "payload")
	mustUpload(t, h, principal, "holiday.png", "payload")
	ledger := mustUpload(t, h, principal, "ledger.xyz", "payload")

	tag, err := h.tags.Create(context.Background(), principal, "finance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.tags.Attach(context.Background(), report.ID, tag.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byType, err := h.service.List(context.Background(), principal, ListFilter{TypeFilter: ".pdf"}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byType.Total != 1 || byType.Files[0].ID != report.ID {
		t.Fatalf("unexpected type filter result: %+v", byType.Files)
	}

	other, err := h.service.List(context.Background(), principal, ListFilter{TypeFilter: TypeFilterOther}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.Total != 1 || other.Files[0].ID != ledger.ID {
		t.Fatalf("unexpected other filter result: %+v", other.Files)
	}

	byKeyword, err := h.service.List(context.Background(), principal, ListFilter{Keyword: "REPORT"}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byKeyword.Total != 1 || byKeyword.Files[0].ID != report.ID {
		t.Fatalf("unexpected keyword result: %+v", byKeyword.Files)
	}

	tagID := tag.ID
	byTag, err := h.service.List(context.Background(), principal, ListFilter{TagID: &tagID}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byTag.Total != 1 || byTag.Files[0].ID != report.ID {
		t.Fatalf("unexpected tag result: %+v", byTag.Files)
	}
}

func TestListAnnotatesFilesWithTags(t *testing.T) {
	h := newTestHarness(t, 0)
	principal := auth.Principal{UserID: 1}

	record := mustUpload(t, h, principal, "tagged.txt", "payload")
	bare := mustUpload(t, h, principal, "bare.txt", "payload")

	tag, err := h.tags.Create(context.Background(), principal, "inbox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.tags.Attach(context.Background(), record.ID, tag.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := h.service.List(context.Background(), principal, ListFilter{}, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, entry := range result.Files {
		switch entry.ID {
		case record.ID:
			if len(entry.Tags) != 1 || entry.Tags[0].Name != "inbox" {
				t.Fatalf("expected inbox tag, got %+v", entry.Tags)
			}
		case bare.ID:
			if len(entry.Tags) != 0 {
				t.Fatalf("expected no tags, got %+v", entry.Tags)
			}
		}
	}
}
