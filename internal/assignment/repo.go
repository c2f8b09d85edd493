package assignment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

const claimSQL = `UPDATE orders SET driver_id = ?, status = ?, assigned_at = ?, updated_at = ? WHERE id = ? AND driver_id IS NULL AND status = ? AND delivery_type = ?`

// Repository persists driver claims.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Claim(ctx context.Context, orderID, driverID uuid.UUID, at time.Time) (int64, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	CreateStatusEvent(ctx context.Context, event *models.OrderStatusEvent) error
	ListClaimable(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Claim is the whole arbitration: one conditional UPDATE, at most one winner.
func (r *repository) Claim(ctx context.Context, orderID, driverID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Exec(claimSQL,
		driverID, enums.OrderStatusAssigned, at, at,
		orderID, enums.OrderStatusReady, enums.DeliveryTypeDelivery)
	return res.RowsAffected, res.Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) CreateStatusEvent(ctx context.Context, event *models.OrderStatusEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListClaimable returns the driver queue oldest first, one row past limit.
func (r *repository) ListClaimable(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ? AND delivery_type = ? AND driver_id IS NULL", enums.OrderStatusReady, enums.DeliveryTypeDelivery)
	if cursor != nil {
		query = query.Where("((created_at > ?) OR (created_at = ? AND id > ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var orders []models.Order
	err := query.
		Order("created_at ASC, id ASC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
