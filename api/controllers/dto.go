package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-backend/internal/cart"
	"github.com/angelmondragon/fulfillment-backend/internal/ratings"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

type orderItemResponse struct {
	ID           uuid.UUID       `json:"id"`
	ProductID    uuid.UUID       `json:"product_id"`
	ProductName  string          `json:"product_name"`
	ProductImage *string         `json:"product_image,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	Notes        *string         `json:"notes,omitempty"`
}

type orderResponse struct {
	ID              uuid.UUID           `json:"id"`
	BuyerID         uuid.UUID           `json:"buyer_id"`
	SellerID        uuid.UUID           `json:"seller_id"`
	DriverID        *uuid.UUID          `json:"driver_id,omitempty"`
	Status          enums.OrderStatus   `json:"status"`
	DeliveryType    enums.DeliveryType  `json:"delivery_type"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	DeliveryFee     decimal.Decimal     `json:"delivery_fee"`
	Total           decimal.Decimal     `json:"total"`
	DeliveryAddress *string             `json:"delivery_address,omitempty"`
	CustomerName    string              `json:"customer_name"`
	PhoneNumber     string              `json:"phone_number"`
	CustomerNotes   *string             `json:"customer_notes,omitempty"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	RejectionReason *string             `json:"rejection_reason,omitempty"`
	SellerRating    *int                `json:"seller_rating,omitempty"`
	SellerReview    *string             `json:"seller_review,omitempty"`
	DriverRating    *int                `json:"driver_rating,omitempty"`
	DriverReview    *string             `json:"driver_review,omitempty"`
	CanRateSeller   bool                `json:"can_rate_seller"`
	CanRateDriver   bool                `json:"can_rate_driver"`
	Items           []orderItemResponse `json:"items,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	AcceptedAt      *time.Time          `json:"accepted_at,omitempty"`
	ReadyAt         *time.Time          `json:"ready_at,omitempty"`
	AssignedAt      *time.Time          `json:"assigned_at,omitempty"`
	PickedUpAt      *time.Time          `json:"picked_up_at,omitempty"`
	InTransitAt     *time.Time          `json:"in_transit_at,omitempty"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
	RejectedAt      *time.Time          `json:"rejected_at,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type orderPageResponse struct {
	Items      []orderResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type statusEventResponse struct {
	ID         uuid.UUID          `json:"id"`
	FromStatus *enums.OrderStatus `json:"from_status,omitempty"`
	ToStatus   enums.OrderStatus  `json:"to_status"`
	ActorID    uuid.UUID          `json:"actor_id"`
	ActorRole  enums.ActorRole    `json:"actor_role"`
	Note       *string            `json:"note,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

type notificationResponse struct {
	ID        uuid.UUID              `json:"id"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      json.RawMessage        `json:"data,omitempty"`
	IsRead    bool                   `json:"is_read"`
	CreatedAt time.Time              `json:"created_at"`
}

type notificationPageResponse struct {
	Items  []notificationResponse `json:"items"`
	Cursor string                 `json:"cursor,omitempty"`
}

type productResponse struct {
	ID            uuid.UUID       `json:"id"`
	SellerID      uuid.UUID       `json:"seller_id"`
	Name          string          `json:"name"`
	ImageURL      *string         `json:"image_url,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	IsAvailable   bool            `json:"is_available"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type cartResponse struct {
	BuyerID  uuid.UUID       `json:"buyer_id"`
	SellerID *uuid.UUID      `json:"seller_id,omitempty"`
	Lines    []cart.Line     `json:"lines"`
	Count    int             `json:"count"`
	Total    decimal.Decimal `json:"total"`
}

func newOrderResponse(order *models.Order) orderResponse {
	resp := orderResponse{
		ID:              order.ID,
		BuyerID:         order.BuyerID,
		SellerID:        order.SellerID,
		DriverID:        order.DriverID,
		Status:          order.Status,
		DeliveryType:    order.DeliveryType,
		Subtotal:        order.Subtotal,
		DeliveryFee:     order.DeliveryFee,
		Total:           order.Total,
		DeliveryAddress: order.DeliveryAddress,
		CustomerName:    order.CustomerName,
		PhoneNumber:     order.PhoneNumber,
		CustomerNotes:   order.CustomerNotes,
		PaymentMethod:   order.PaymentMethod,
		RejectionReason: order.RejectionReason,
		SellerRating:    order.SellerRating,
		SellerReview:    order.SellerReview,
		DriverRating:    order.DriverRating,
		DriverReview:    order.DriverReview,
		CanRateSeller:   ratings.CanRate(*order, enums.RatingRoleSeller),
		CanRateDriver:   ratings.CanRate(*order, enums.RatingRoleDriver),
		CreatedAt:       order.CreatedAt,
		AcceptedAt:      order.AcceptedAt,
		ReadyAt:         order.ReadyAt,
		AssignedAt:      order.AssignedAt,
		PickedUpAt:      order.PickedUpAt,
		InTransitAt:     order.InTransitAt,
		DeliveredAt:     order.DeliveredAt,
		CompletedAt:     order.CompletedAt,
		CancelledAt:     order.CancelledAt,
		RejectedAt:      order.RejectedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:           item.ID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductImage: item.ProductImage,
			Price:        item.Price,
			Quantity:     item.Quantity,
			Notes:        item.Notes,
		})
	}
	return resp
}

func newOrderPageResponse(page *pagination.Page[models.Order]) orderPageResponse {
	resp := orderPageResponse{Items: []orderResponse{}}
	if page == nil {
		return resp
	}
	resp.NextCursor = page.NextCursor
	for i := range page.Items {
		resp.Items = append(resp.Items, newOrderResponse(&page.Items[i]))
	}
	return resp
}

func newStatusEventResponses(events []models.OrderStatusEvent) []statusEventResponse {
	out := make([]statusEventResponse, 0, len(events))
	for _, evt := range events {
		out = append(out, statusEventResponse{
			ID:         evt.ID,
			FromStatus: evt.FromStatus,
			ToStatus:   evt.ToStatus,
			ActorID:    evt.ActorID,
			ActorRole:  evt.ActorRole,
			Note:       evt.Note,
			CreatedAt:  evt.CreatedAt,
		})
	}
	return out
}

func newNotificationResponse(n models.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func newProductResponse(p *models.Product) productResponse {
	return productResponse{
		ID:            p.ID,
		SellerID:      p.SellerID,
		Name:          p.Name,
		ImageURL:      p.ImageURL,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		IsAvailable:   p.IsAvailable,
		UpdatedAt:     p.UpdatedAt,
	}
}

func newCartResponse(c *cart.Cart) cartResponse {
	resp := cartResponse{Lines: []cart.Line{}}
	if c == nil {
		return resp
	}
	resp.BuyerID = c.BuyerID
	resp.SellerID = c.SellerID
	if c.Lines != nil {
		resp.Lines = c.Lines
	}
	resp.Count = c.Count()
	resp.Total = c.Total()
	return resp
}
