package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/clock"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/events"
	"github.com/ayo6706/payment-aggregator/internal/observability"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/ayo6706/payment-aggregator/internal/routing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnsupported is returned when a channel's provider lacks an optional capability.
var ErrUnsupported = errors.New("operation not supported by channel")

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	Checked int
	Settled int
	Failed  int
}

// ReconciliationService repairs orders whose callback never arrived by
// polling the provider for their status.
type ReconciliationService struct {
	store      QueryStore
	router     *routing.Router
	settlement *SettlementService
	publisher  events.Publisher
	waker      NotificationWaker
	clock      clock.Clock
	staleAfter time.Duration
	batchSize  int32
}

func NewReconciliationService(store QueryStore, router *routing.Router, settlement *SettlementService, staleAfter time.Duration, batchSize int32) *ReconciliationService {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReconciliationService{
		store:      store,
		router:     router,
		settlement: settlement,
		publisher:  events.NopPublisher{},
		clock:      clock.NewSystem(),
		staleAfter: staleAfter,
		batchSize:  batchSize,
	}
}

func (s *ReconciliationService) WithPublisher(p events.Publisher) *ReconciliationService {
	if p != nil {
		s.publisher = p
	}
	return s
}

func (s *ReconciliationService) WithWaker(w NotificationWaker) *ReconciliationService {
	s.waker = w
	return s
}

func (s *ReconciliationService) WithClock(c clock.Clock) *ReconciliationService {
	if c != nil {
		s.clock = c
	}
	return s
}

// SyncStaleOrders queries the provider for every non-terminal order older than
// the stale threshold and applies terminal answers through the settlement
// path. Provider errors are counted and skipped; only a store failure aborts
// the pass.
func (s *ReconciliationService) SyncStaleOrders(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	orders, err := s.store.Queries().ListStaleOrders(ctx, repository.ListStaleOrdersParams{
		CreatedBefore: s.clock.Now().Add(-s.staleAfter),
		Limit:         s.batchSize,
	})
	if err != nil {
		return report, fmt.Errorf("list stale orders: %w", err)
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		channel := order.ServingChannel()
		log := zap.L().With(
			zap.String("order_id", order.ID.String()),
			zap.String("merchant_order_id", order.MerchantOrderID),
			zap.String("channel", channel),
		)

		result := s.router.Query(ctx, channel, order.Type, order.UpstreamRef())
		observability.IncrementProviderCall(channel, "query_"+string(order.Type), result.Success)
		if !result.Success {
			report.Failed++
			log.Warn("provider status query failed", zap.String("error", result.Error))
			continue
		}
		if !result.Status.IsTerminal() && result.Status != domain.StatusExpired {
			continue
		}

		out, err := s.settlement.Settle(ctx, SettleInput{
			OrderID:       order.ID,
			Status:        result.Status,
			SettlementRef: result.SettlementRef,
			ActualAmount:  result.Amount,
			RawPayload:    result.Raw,
			Source:        "reconciliation",
		})
		if err != nil {
			return report, fmt.Errorf("settle order %s: %w", order.ID, err)
		}
		if !out.Applied {
			continue
		}
		report.Settled++
		log.Info("order settled by reconciliation", zap.String("status", string(out.Order.Status)))
		if out.Enqueued && s.waker != nil {
			s.waker.Wake()
		}
		publishSettled(ctx, s.publisher, out, "reconciliation", s.clock.Now())
	}

	if report.Checked > 0 {
		zap.L().Info("reconciliation pass finished",
			zap.Int("checked", report.Checked),
			zap.Int("settled", report.Settled),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// SubmitSettlementRef forwards an operator supplied settlement reference for
// a stuck payin to providers that support manual matching.
func (s *ReconciliationService) SubmitSettlementRef(ctx context.Context, orderID uuid.UUID, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.NewValidationError("settlementRef", "is required")
	}
	order, err := s.store.Queries().GetOrder(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return domain.ErrOrderNotFound
		}
		return fmt.Errorf("get order: %w", err)
	}
	adapter, err := s.router.Registry().Adapter(order.ServingChannel())
	if err != nil {
		return err
	}
	submitter, ok := adapter.(provider.SettlementRefSubmitter)
	if !ok {
		return fmt.Errorf("channel %q: %w", order.ServingChannel(), ErrUnsupported)
	}
	res := submitter.SubmitSettlementRef(ctx, order.UpstreamRef(), ref)
	observability.IncrementProviderCall(order.ServingChannel(), "submit_settlement_ref", res.Success)
	if !res.Success {
		return &domain.UpstreamProviderError{Channel: order.ServingChannel(), Message: res.Error}
	}
	zap.L().Info("settlement reference submitted",
		zap.String("order_id", order.ID.String()),
		zap.String("channel", order.ServingChannel()),
	)
	return nil
}

// Channels lists every configured channel, dynamic ones included.
func (s *ReconciliationService) Channels() []routing.Entry {
	return s.router.Registry().Entries()
}

// ChannelBalance is a provider-side balance snapshot.
type ChannelBalance struct {
	Channel   string
	Supported bool
	Balance   int64
	Error     string
}

// ChannelBalances asks every concrete channel that exposes a balance endpoint
// for its current balance.
func (s *ReconciliationService) ChannelBalances(ctx context.Context) []ChannelBalance {
	out := make([]ChannelBalance, 0)
	for _, entry := range s.router.Registry().Entries() {
		if entry.Dynamic {
			continue
		}
		cb := ChannelBalance{Channel: entry.Name}
		if q, ok := entry.Adapter.(provider.BalanceQuerier); ok {
			cb.Supported = true
			res := q.GetBalance(ctx)
			observability.IncrementProviderCall(entry.Name, "balance", res.Success)
			if res.Success {
				cb.Balance = res.Balance
			} else {
				cb.Error = res.Error
			}
		}
		out = append(out, cb)
	}
	return out
}
