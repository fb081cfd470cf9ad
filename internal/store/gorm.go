package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sandboxrun/engine/internal/types"
)

// GormStore persists submissions through GORM, the same ORM
// spencerandtheteagues-apex-build-platform uses for its build-record
// store, with either Postgres (production) or the pure-Go sqlite driver
// (local/single-node) behind the gorm.io/driver interface.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-opened *gorm.DB and ensures the
// submissions table exists.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&types.Submission{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Save(ctx context.Context, sub *types.Submission) error {
	return s.db.WithContext(ctx).Save(sub).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*types.Submission, error) {
	var sub types.Submission
	err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *GormStore) GetByToken(ctx context.Context, token string) (*types.Submission, error) {
	var sub types.Submission
	err := s.db.WithContext(ctx).First(&sub, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// terminalStatuses lists every Status for which IsTerminal is true,
// spelled out so the WHERE clause below can exclude them in SQL rather
// than by loading the row first.
var terminalStatuses = []types.Status{
	types.StatusAccepted,
	types.StatusWrongAnswer,
	types.StatusCompilationError,
	types.StatusRuntimeError,
	types.StatusTimeLimitExceeded,
	types.StatusMemoryLimitExceeded,
	types.StatusInternalError,
	types.StatusCancelled,
}

// MarkTerminal updates sub's full row only if the persisted status is
// not already terminal, using an UPDATE ... WHERE guard plus
// RowsAffected instead of a read-then-write, so two racing workers can
// never both "win" a terminal transition for the same submission.
func (s *GormStore) MarkTerminal(ctx context.Context, sub *types.Submission) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&types.Submission{}).
		Where("id = ? AND status NOT IN ?", sub.ID, terminalStatuses).
		Select("*").
		Updates(sub)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
