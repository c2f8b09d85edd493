// Package ratings records the buyer's one-time rating of the seller and the
// driver of a finished order.
package ratings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const (
	MinStars = 1
	MaxStars = 5

	maxCommentLength = 1000
)

type SubmitRatingInput struct {
	OrderID uuid.UUID
	Role    enums.RatingRole
	Stars   int
	Comment *string
	ActorID uuid.UUID
}

// Ledger stores ratings with write-once semantics per role.
type Ledger struct {
	db   *gorm.DB
	logg *logger.Logger
	now  func() time.Time
}

func NewLedger(conn *gorm.DB, logg *logger.Logger) (*Ledger, error) {
	if conn == nil {
		return nil, fmt.Errorf("database required")
	}
	return &Ledger{db: conn, logg: logg, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CanRate reports whether order accepts a rating for role right now.
func CanRate(order models.Order, role enums.RatingRole) bool {
	if !order.Status.IsRatable() {
		return false
	}
	switch role {
	case enums.RatingRoleSeller:
		return order.SellerRating == nil
	case enums.RatingRoleDriver:
		return order.DriverID != nil && order.DriverRating == nil
	default:
		return false
	}
}

func ratingColumns(role enums.RatingRole) (rating, review string) {
	if role == enums.RatingRoleDriver {
		return "driver_rating", "driver_review"
	}
	return "seller_rating", "seller_review"
}

func (in SubmitRatingInput) validate() (*string, error) {
	if in.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if in.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !in.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "role must be seller or driver")
	}
	if in.Stars < MinStars || in.Stars > MaxStars {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stars must be between 1 and 5").
			WithDetails(map[string]any{"stars": in.Stars})
	}
	if in.Comment == nil {
		return nil, nil
	}
	comment := strings.TrimSpace(*in.Comment)
	if comment == "" {
		return nil, nil
	}
	if len(comment) > maxCommentLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "comment too long").
			WithDetails(map[string]any{"max_length": maxCommentLength})
	}
	return &comment, nil
}

// SubmitRating stores the rating if the role is still unrated. The guarded
// UPDATE makes the first write win; later attempts get ALREADY_RATED.
func (l *Ledger) SubmitRating(ctx context.Context, in SubmitRatingInput) (*models.Order, error) {
	comment, err := in.validate()
	if err != nil {
		return nil, err
	}

	order, err := l.findOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != in.ActorID {
		return nil, pkgerrors.New(pkgerrors.CodePermission, "only the buyer can rate this order")
	}
	if in.Role == enums.RatingRoleDriver && order.DriverID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no driver to rate")
	}

	ratingCol, reviewCol := ratingColumns(in.Role)
	res := l.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND "+ratingCol+" IS NULL AND status IN ?", in.OrderID,
			[]enums.OrderStatus{enums.OrderStatusDelivered, enums.OrderStatusCompleted}).
		Updates(map[string]any{
			ratingCol:    in.Stars,
			reviewCol:    comment,
			"updated_at": l.now(),
		})
	if res.Error != nil {
		return nil, db.Classify(res.Error, "store rating")
	}
	if res.RowsAffected == 0 {
		return nil, l.explainRejected(ctx, in)
	}

	updated, err := l.findOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if l.logg != nil {
		l.logg.Info(l.logg.WithFields(ctx, map[string]any{
			"order_id": in.OrderID.String(),
			"role":     string(in.Role),
			"stars":    in.Stars,
		}), "rating stored")
	}
	return updated, nil
}

func (l *Ledger) explainRejected(ctx context.Context, in SubmitRatingInput) error {
	order, err := l.findOrder(ctx, in.OrderID)
	if err != nil {
		return err
	}
	if !order.Status.IsRatable() {
		return pkgerrors.New(pkgerrors.CodeState, "order cannot be rated yet").
			WithDetails(map[string]any{"status": order.Status})
	}
	return pkgerrors.NewReason(pkgerrors.ReasonAlreadyRated, fmt.Sprintf("%s already rated", in.Role))
}

func (l *Ledger) findOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := l.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, db.Classify(err, "load order")
	}
	return &order, nil
}
