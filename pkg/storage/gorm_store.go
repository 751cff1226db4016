package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/alpacahack/quotaguard/pkg/models"
)

// GormStore persists identities through GORM. Production deployments point
// it at PostgreSQL; tests run it against in-memory SQLite.
//
// All counter mutations are single UPDATE statements whose increment
// expression is evaluated by the database, so concurrent increments for the
// same id are serialized by the database's own row locking.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an existing GORM handle. The handle should be opened
// with TranslateError enabled so duplicate-key violations map onto
// gorm.ErrDuplicatedKey across drivers.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenPostgres connects to PostgreSQL and migrates the identity table.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(&models.Identity{}); err != nil {
		return nil, fmt.Errorf("migrate identity table: %w", err)
	}
	return NewGormStore(db), nil
}

func (s *GormStore) Create(ctx context.Context, identity *models.Identity) error {
	err := s.db.WithContext(ctx).Create(identity).Error
	if err == nil {
		return nil
	}
	if isDuplicateKey(err) {
		return ErrAlreadyExists
	}
	return fmt.Errorf("create identity %s: %w", identity.ID, err)
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	var identity models.Identity
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find identity %s: %w", id, err)
	}
	return &identity, nil
}

func (s *GormStore) IncrementUsage(ctx context.Context, id string) (*models.Identity, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Identity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"generations_used":   gorm.Expr("generations_used + 1"),
			"last_generation_at": now,
			"updated_at":         now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("increment usage for %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *GormStore) IncrementUsageForAllLinkedTo(ctx context.Context, fingerprintID string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Identity{}).
		Where("linked_fingerprint_id = ?", fingerprintID).
		Updates(map[string]any{
			"generations_used":   gorm.Expr("generations_used + 1"),
			"last_generation_at": now,
			"updated_at":         now,
		})
	if res.Error != nil {
		return fmt.Errorf("increment linked usage for %s: %w", fingerprintID, res.Error)
	}
	// Zero affected rows just means nothing is linked yet.
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// isDuplicateKey covers drivers that predate GORM's error translation.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
