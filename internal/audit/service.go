// Package audit persists the action trail emitted by the core services.
// Emission is best effort: a failing sink is logged and never fails the
// operation that produced the event.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pinebranch/filevault/internal/faults"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const opListEntries = "audit.list_entries"

// Recorder is the sink boundary the core services emit events into.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}

// ServiceConfig describes the dependencies of the audit service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service stores audit entries and serves the administrative listing.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the audit service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Record persists the event. Failures are logged and swallowed so the
// primary operation never depends on the sink being available.
func (s *Service) Record(ctx context.Context, event Event) {
	entry := Entry{
		ActorID:    event.ActorID,
		Action:     event.Action,
		TargetType: event.TargetType,
		TargetID:   event.TargetID,
		Details:    event.Details,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Warn("audit entry dropped",
			zap.String("action", event.Action),
			zap.Uint64("actor_id", event.ActorID),
			zap.Error(err))
	}
}

// ListFilter narrows the administrative audit listing. Zero values add no
// predicates.
type ListFilter struct {
	ActorID    uint64
	Action     string
	TargetType string
	From       time.Time
	To         time.Time
}

// ListResult is one page of audit entries plus the total match count.
type ListResult struct {
	Total   int64
	Entries []Entry
}

// List returns audit entries newest first.
func (s *Service) List(ctx context.Context, filter ListFilter, page, pageSize int) (ListResult, error) {
	if page < 1 || pageSize < 1 {
		return ListResult{}, faults.New(opListEntries, "invalid_page", faults.ErrValidation)
	}

	query := s.db.WithContext(ctx).Model(&Entry{})
	if filter.ActorID != 0 {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.TargetType != "" {
		query = query.Where("target_type = ?", filter.TargetType)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at <= ?", filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return ListResult{}, faults.New(opListEntries, "count_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	var entries []Entry
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&entries).Error; err != nil {
		return ListResult{}, faults.New(opListEntries, "query_failed", fmt.Errorf("%w: %w", faults.ErrStoreUnavailable, err))
	}

	return ListResult{Total: total, Entries: entries}, nil
}
