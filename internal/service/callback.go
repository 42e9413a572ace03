package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/clock"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/events"
	"github.com/ayo6706/payment-aggregator/internal/lock"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/observability"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/routing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderLocker serialises callback processing per order across instances.
type OrderLocker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, error)
}

// NotificationWaker nudges the notification worker after a job is enqueued.
type NotificationWaker interface {
	Wake()
}

// CallbackResponse is what the HTTP layer should send back to the provider.
type CallbackResponse struct {
	Status int
	Body   string
}

// CallbackOptions tune callback handling.
type CallbackOptions struct {
	// AckOnError acknowledges callbacks even when processing fails, so the
	// provider stops retrying; reconciliation repairs the order later.
	AckOnError bool
	LockTTL    time.Duration
}

// CallbackService ingests provider callbacks: it authenticates them, maps
// them onto orders and hands the status change to the settlement service.
type CallbackService struct {
	registry   *routing.Registry
	settlement *SettlementService
	store      QueryStore
	locker     OrderLocker
	publisher  events.Publisher
	waker      NotificationWaker
	clock      clock.Clock
	opts       CallbackOptions
}

func NewCallbackService(registry *routing.Registry, settlement *SettlementService, store QueryStore, opts CallbackOptions) *CallbackService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	return &CallbackService{
		registry:   registry,
		settlement: settlement,
		store:      store,
		publisher:  events.NopPublisher{},
		clock:      clock.NewSystem(),
		opts:       opts,
	}
}

func (s *CallbackService) WithLocker(l OrderLocker) *CallbackService {
	s.locker = l
	return s
}

func (s *CallbackService) WithPublisher(p events.Publisher) *CallbackService {
	if p != nil {
		s.publisher = p
	}
	return s
}

func (s *CallbackService) WithWaker(w NotificationWaker) *CallbackService {
	s.waker = w
	return s
}

func (s *CallbackService) WithClock(c clock.Clock) *CallbackService {
	if c != nil {
		s.clock = c
	}
	return s
}

// Handle processes one callback delivered to /callbacks/{channel}/{type}.
//
// Signature failures are logged and counted but do not reject the callback
// unless the channel is configured for strict verification. Callbacks for
// unknown or already settled orders are acknowledged so the provider stops
// retrying. The returned error is informational; the response is always
// populated.
func (s *CallbackService) Handle(ctx context.Context, channel string, orderType domain.OrderType, req provider.CallbackRequest) (CallbackResponse, error) {
	entry, ok := s.registry.Lookup(channel)
	if !ok || entry.Dynamic {
		observability.IncrementCallback(channel, "unknown_channel")
		return CallbackResponse{Status: http.StatusNotFound, Body: "unknown channel"}, fmt.Errorf("channel %q: %w", channel, domain.ErrUnknownChannel)
	}
	adapter := entry.Adapter
	ack := CallbackResponse{Status: http.StatusOK, Body: adapter.AckToken()}
	log := zap.L().With(zap.String("channel", channel), zap.String("type", string(orderType)))

	if !adapter.VerifyCallbackSignature(req) {
		observability.IncrementSignatureFailure(channel)
		if entry.StrictSignature {
			log.Warn("callback rejected: signature mismatch")
			observability.IncrementCallback(channel, "rejected")
			return CallbackResponse{Status: http.StatusUnauthorized, Body: "signature mismatch"}, domain.ErrSignatureMismatch
		}
		log.Warn("callback signature mismatch, processing anyway")
	}

	data, err := adapter.ParseCallback(req, orderType)
	if err != nil {
		log.Error("callback could not be parsed", zap.Error(err), zap.ByteString("body", req.Body))
		observability.IncrementCallback(channel, "parse_error")
		return ack, fmt.Errorf("parse callback: %w", err)
	}
	log = log.With(zap.String("order_ref", data.OrderID), zap.String("status", string(data.Status)))

	order, err := s.callbackOrder(ctx, data.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrCallbackOrderNotFound) {
			log.Warn("callback for unknown order")
			observability.IncrementCallback(channel, "order_not_found")
			return ack, err
		}
		return s.failure(channel, ack, err)
	}
	// A provider may only settle orders it served, of the type named in the
	// callback path.
	if order.Type != orderType || order.ServingChannel() != channel {
		log.Warn("callback does not match order",
			zap.String("order_type", string(order.Type)),
			zap.String("serving_channel", order.ServingChannel()),
		)
		observability.IncrementCallback(channel, "order_mismatch")
		return ack, fmt.Errorf("order %s served by %q as %s: %w", order.ID, order.ServingChannel(), order.Type, domain.ErrCallbackOrderNotFound)
	}
	if order.Status.IsTerminal() {
		log.Info("callback for settled order ignored", zap.String("stored_status", string(order.Status)))
		observability.IncrementCallback(channel, "duplicate")
		return ack, domain.ErrCallbackAlreadyTerminal
	}

	if s.locker != nil {
		lease, lockErr := s.locker.TryAcquire(ctx, "order-callback:"+order.ID.String(), s.opts.LockTTL)
		switch {
		case lockErr != nil:
			log.Warn("order lock unavailable, relying on row lock", zap.Error(lockErr))
		case lease == nil:
			log.Debug("order lock held elsewhere, relying on row lock")
		default:
			defer func() {
				if err := lease.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrNotHeld) {
					log.Warn("release order lock", zap.Error(err))
				}
			}()
		}
	}

	out, err := s.settlement.Settle(ctx, SettleInput{
		OrderID:         order.ID,
		Status:          data.Status,
		SettlementRef:   data.SettlementRef,
		ProviderOrderID: data.ProviderOrderID,
		ActualAmount:    data.ActualAmount,
		Message:         data.Message,
		RawPayload:      req.Body,
		Source:          "callback",
	})
	if err != nil {
		return s.failure(channel, ack, err)
	}
	if !out.Applied {
		observability.IncrementCallback(channel, "duplicate")
		return ack, nil
	}

	observability.IncrementCallback(channel, "applied")
	if out.Order.Status.IsTerminal() {
		s.afterSettlement(ctx, out, "callback")
	}
	return ack, nil
}

// callbackOrder resolves the reference a provider echoed back. References
// that are not aggregator order ids never match.
func (s *CallbackService) callbackOrder(ctx context.Context, ref string) (models.Order, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return models.Order{}, domain.ErrCallbackOrderNotFound
	}
	order, err := s.store.Queries().GetOrder(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return models.Order{}, domain.ErrCallbackOrderNotFound
		}
		return models.Order{}, fmt.Errorf("get callback order: %w", err)
	}
	return order, nil
}

func (s *CallbackService) failure(channel string, ack CallbackResponse, err error) (CallbackResponse, error) {
	observability.IncrementCallback(channel, "error")
	zap.L().Error("callback processing failed", zap.String("channel", channel), zap.Error(err))
	if s.opts.AckOnError {
		return ack, err
	}
	return CallbackResponse{Status: http.StatusInternalServerError, Body: "error"}, err
}

func (s *CallbackService) afterSettlement(ctx context.Context, out SettleOutcome, source string) {
	if out.Enqueued && s.waker != nil {
		s.waker.Wake()
	}
	publishSettled(ctx, s.publisher, out, source, s.clock.Now())
}

func publishSettled(ctx context.Context, pub events.Publisher, out SettleOutcome, source string, at time.Time) {
	if pub == nil {
		return
	}
	if err := pub.PublishOrder(ctx, events.NewOrderEvent(out.Order, source, at)); err != nil {
		zap.L().Warn("order event not published", zap.String("order_id", out.Order.ID.String()), zap.Error(err))
	}
}
