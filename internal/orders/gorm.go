package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shipmate/carrier-webhook-svc/internal/models"
)

// GormStore is the database-backed order store, for deployments where
// orders live in the same database as the pipeline. Writes are immediate;
// concurrent writers get last-writer-wins semantics.
type GormStore struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:      db,
		nowFunc: time.Now,
	}
}

func (s *GormStore) FindByExternalID(ctx context.Context, externalID string) (int64, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to look up order by external id: %w", err)
	}
	return order.ID, nil
}

func (s *GormStore) Status(ctx context.Context, orderRef int64) (string, error) {
	var order models.Order
	err := s.db.WithContext(ctx).First(&order, orderRef).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load order: %w", err)
	}
	return order.Status, nil
}

func (s *GormStore) SetStatus(ctx context.Context, orderRef int64, status string) error {
	result := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderRef).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": s.nowFunc(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update order status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Metadata(ctx context.Context, orderRef int64, key string) (string, bool, error) {
	var meta models.OrderMeta
	err := s.db.WithContext(ctx).
		Where("order_id = ? AND meta_key = ?", orderRef, key).
		First(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load order metadata: %w", err)
	}
	return meta.MetaValue, true, nil
}

func (s *GormStore) SetMetadata(ctx context.Context, orderRef int64, key, value string) error {
	// Update-then-insert; last writer wins, which matches the pipeline's
	// concurrency contract for the order store.
	result := s.db.WithContext(ctx).Model(&models.OrderMeta{}).
		Where("order_id = ? AND meta_key = ?", orderRef, key).
		Update("meta_value", value)
	if result.Error != nil {
		return fmt.Errorf("failed to update order metadata: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	meta := models.OrderMeta{
		OrderID:   orderRef,
		MetaKey:   key,
		MetaValue: value,
	}
	if err := s.db.WithContext(ctx).Create(&meta).Error; err != nil {
		return fmt.Errorf("failed to insert order metadata: %w", err)
	}
	return nil
}

func (s *GormStore) AppendNote(ctx context.Context, orderRef int64, note string) error {
	record := models.OrderNote{
		OrderID:   orderRef,
		Note:      note,
		CreatedAt: s.nowFunc(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to append order note: %w", err)
	}
	return nil
}

func (s *GormStore) Persist(ctx context.Context, orderRef int64) error {
	// Writes are immediate.
	return nil
}
