package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/catalog"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	qstashx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/qstash"
)

// Publisher delivers order events. *qstash.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, destination string, payload any) (qstashx.PublishResponse, error)
}

var _ Publisher = (*qstashx.Client)(nil)

// PlaceRequest is what checkout knows when the shopper picks a payment method.
// A non-nil CheckoutID becomes the order ID, and placing the same checkout
// again returns the order already stored under it.
type PlaceRequest struct {
	CheckoutID    uuid.UUID
	SessionID     string
	Products      []catalog.Product
	Address       string
	PaymentMethod PaymentMethod
}

type ServiceOption func(*Service)

// WithPublisher publishes every placed order to destination.
func WithPublisher(p Publisher, destination string) ServiceOption {
	return func(s *Service) {
		s.publisher = p
		s.destination = strings.TrimSpace(destination)
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service records orders. No payment is taken.
type Service struct {
	repo        Repository
	publisher   Publisher
	destination string
	now         func() time.Time
	newID       func() uuid.UUID
}

func NewService(repo Repository, opts ...ServiceOption) *Service {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	s := &Service{
		repo:  repo,
		now:   time.Now,
		newID: uuid.New,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Service) Place(ctx context.Context, req PlaceRequest) (Order, error) {
	if len(req.Products) == 0 {
		return Order{}, fmt.Errorf("%w: order has no products", contractx.ErrInvalidInput)
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return Order{}, fmt.Errorf("%w: shipping address is required", contractx.ErrInvalidInput)
	}
	if req.PaymentMethod == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", contractx.ErrInvalidInput)
	}

	id := req.CheckoutID
	if id == uuid.Nil {
		id = s.newID()
	} else {
		existing, err := s.repo.Get(ctx, id)
		switch {
		case err == nil:
			log.Info().Str("order_id", id.String()).Str("session_id", existing.SessionID).Msg("order already placed for checkout")
			return existing, nil
		case !errors.Is(err, ErrOrderNotFound):
			return Order{}, fmt.Errorf("look up order %s: %w", id, err)
		}
	}

	total := decimal.Zero
	for _, p := range req.Products {
		price, err := catalog.ParsePrice(p.Price)
		if err != nil {
			return Order{}, fmt.Errorf("%s: %w", p.Name, err)
		}
		total = total.Add(price)
	}

	o := Order{
		ID:            id,
		SessionID:     req.SessionID,
		Lines:         LinesFrom(req.Products),
		Total:         total,
		Address:       address,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.Save(ctx, o); err != nil {
		return Order{}, fmt.Errorf("save order: %w", err)
	}

	logger := log.With().Str("order_id", o.ID.String()).Str("session_id", o.SessionID).Logger()
	logger.Info().Str("total", o.Total.StringFixed(2)).Str("payment_method", string(o.PaymentMethod)).Msg("order placed")

	if s.publisher != nil && s.destination != "" {
		if resp, err := s.publisher.Publish(ctx, s.destination, o); err != nil {
			logger.Warn().Err(err).Msg("publish order event failed")
		} else {
			logger.Debug().Str("message_id", resp.MessageID).Msg("order event published")
		}
	}
	return o, nil
}

func (s *Service) Orders(ctx context.Context, sessionID string) ([]Order, error) {
	return s.repo.ListBySession(ctx, sessionID)
}
