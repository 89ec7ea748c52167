// internal/services/webhook_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	"gorm.io/gorm"

	"github.com/javajoker/serialkey-backend/internal/config"
	"github.com/javajoker/serialkey-backend/internal/database"
	"github.com/javajoker/serialkey-backend/internal/metrics"
	"github.com/javajoker/serialkey-backend/internal/models"
)

const (
	maxOrderQuantity = 100
	maxClaimAttempts = 5
)

// PaymentEvent is a provider event reduced to what license assignment needs.
type PaymentEvent interface {
	paymentEvent()
}

// OrderPaid is a completed, paid checkout.
type OrderPaid struct {
	OrderID       string
	ProductSlug   string
	CustomerEmail string
	CustomerName  string
	Quantity      int
}

// IgnoredEvent is any provider event that does not lead to an assignment.
type IgnoredEvent struct {
	Type   string
	Reason string
}

func (OrderPaid) paymentEvent()    {}
func (IgnoredEvent) paymentEvent() {}

type OrderResult struct {
	OrderID   string           `json:"order_id,omitempty"`
	Ignored   bool             `json:"ignored"`
	Duplicate bool             `json:"duplicate"`
	Licenses  []models.License `json:"licenses,omitempty"`
}

type WebhookService struct {
	db      *gorm.DB
	secret  string
	alerts  *AlertDispatcher
	metrics *metrics.Metrics
}

func NewWebhookService(db *gorm.DB, cfg config.PaymentConfig, alerts *AlertDispatcher, m *metrics.Metrics) *WebhookService {
	if cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &WebhookService{
		db:      db,
		secret:  cfg.StripeWebhookSecret,
		alerts:  alerts,
		metrics: m,
	}
}

// HandleStripeWebhook verifies and processes one Stripe delivery.
func (s *WebhookService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*OrderResult, error) {
	event, err := s.ParseStripeEvent(payload, signature)
	if err != nil {
		s.metrics.RecordOrder("invalid_signature")
		return nil, err
	}

	switch e := event.(type) {
	case OrderPaid:
		return s.AssignOrder(ctx, e)
	case IgnoredEvent:
		logrus.WithFields(logrus.Fields{
			"type":   e.Type,
			"reason": e.Reason,
		}).Debug("Ignoring payment event")
		s.metrics.RecordOrder("ignored")
		return &OrderResult{Ignored: true}, nil
	}

	return nil, fmt.Errorf("unhandled payment event %T", event)
}

// ParseStripeEvent checks the Stripe-Signature header and normalises the
// event.
func (s *WebhookService) ParseStripeEvent(payload []byte, signature string) (PaymentEvent, error) {
	if s.secret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	if eventType != "checkout.session.completed" {
		return IgnoredEvent{Type: eventType, Reason: "unsupported type"}, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: malformed checkout session: %w", ErrInvalidRequest, err)
	}

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return IgnoredEvent{Type: eventType, Reason: "payment status " + string(session.PaymentStatus)}, nil
	}

	order := OrderPaid{
		OrderID:       session.ID,
		ProductSlug:   session.Metadata["product_slug"],
		CustomerEmail: session.CustomerEmail,
		Quantity:      1,
	}
	if session.CustomerDetails != nil {
		if order.CustomerEmail == "" {
			order.CustomerEmail = session.CustomerDetails.Email
		}
		order.CustomerName = session.CustomerDetails.Name
	}
	if q, err := strconv.Atoi(session.Metadata["quantity"]); err == nil && q > 0 {
		order.Quantity = q
	}

	return order, nil
}

// AssignOrder hands the oldest unassigned available licenses of the product
// to the customer. Repeated deliveries of the same order return the licenses
// assigned the first time.
func (s *WebhookService) AssignOrder(ctx context.Context, order OrderPaid) (*OrderResult, error) {
	if order.OrderID == "" || order.Quantity < 1 || order.Quantity > maxOrderQuantity {
		return nil, ErrInvalidRequest
	}

	var existing []models.License
	if err := s.db.WithContext(ctx).Where("order_id = ?", order.OrderID).Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if len(existing) > 0 {
		s.metrics.RecordOrder("duplicate")
		return &OrderResult{OrderID: order.OrderID, Duplicate: true, Licenses: existing}, nil
	}

	var product models.Product
	err := s.db.WithContext(ctx).
		Where("slug = ? AND is_active = ?", strings.TrimSpace(order.ProductSlug), true).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.metrics.RecordOrder("unknown_product")
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	assigned := make([]models.License, 0, order.Quantity)
	err = database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		for i := 0; i < order.Quantity; i++ {
			license, err := claimLicense(tx, product.ID, order)
			if err != nil {
				return err
			}
			license.Product = product
			assigned = append(assigned, *license)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOutOfStock) {
			s.metrics.RecordOrder("out_of_stock")
			logrus.WithFields(logrus.Fields{
				"order_id": order.OrderID,
				"product":  product.Slug,
			}).Error("Paid order could not be fulfilled, no licenses in stock")
			return nil, err
		}
		return nil, fmt.Errorf("failed to assign order: %w", err)
	}

	s.metrics.RecordOrder("assigned")
	logrus.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"product":  product.Slug,
		"count":    len(assigned),
	}).Info("Order assigned")

	s.alerts.Dispatch(AlertOrderAssigned, fmt.Sprintf("Order %s: %d %s license(s) assigned to %s",
		order.OrderID, len(assigned), product.Name, order.CustomerEmail))

	return &OrderResult{OrderID: order.OrderID, Licenses: assigned}, nil
}

// claimLicense picks the oldest unassigned license and marks it with the
// order. The conditional update loses to any concurrent claim of the same row.
func claimLicense(tx *gorm.DB, productID uuid.UUID, order OrderPaid) (*models.License, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		var license models.License
		err := tx.Where("product_id = ? AND status = ? AND order_id = ?", productID, models.LicenseStatusAvailable, "").
			Order("created_at ASC").
			First(&license).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrOutOfStock
			}
			return nil, err
		}

		result := tx.Model(&models.License{}).
			Where("id = ? AND status = ? AND order_id = ?", license.ID, models.LicenseStatusAvailable, "").
			Updates(map[string]interface{}{
				"order_id":       order.OrderID,
				"customer_email": order.CustomerEmail,
				"customer_name":  order.CustomerName,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			license.OrderID = order.OrderID
			license.CustomerEmail = order.CustomerEmail
			license.CustomerName = order.CustomerName
			return &license, nil
		}
	}

	return nil, fmt.Errorf("license claim kept losing to concurrent orders")
}
