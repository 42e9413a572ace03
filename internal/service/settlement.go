package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-aggregator/internal/clock"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/observability"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FailureReasonProviderExpired is recorded when a provider reports an order
// as expired. Expiry is never stored as a status of its own.
const FailureReasonProviderExpired = "expired at provider"

// SettleInput is a provider-reported status change for one order.
type SettleInput struct {
	OrderID         uuid.UUID
	Status          domain.OrderStatus
	SettlementRef   string
	ProviderOrderID string
	ActualAmount    int64
	Message         string
	RawPayload      []byte
	// Source names the path that observed the change: callback, reconciliation or creation.
	Source string
	// SkipNotification suppresses the merchant webhook, used when the
	// creator already learned the outcome synchronously.
	SkipNotification bool
}

// SettleOutcome reports what Settle did.
type SettleOutcome struct {
	Order models.Order
	// Applied is false when the order was already terminal or the reported
	// status does not move it forward.
	Applied bool
	// Rejected explains why a reported status that differs from the stored
	// one was not applied.
	Rejected error
	Effect   domain.LedgerEffect
	// Enqueued is true when a merchant notification job was written.
	Enqueued bool
}

// SettlementService applies status transitions and their ledger effect
// atomically.
type SettlementService struct {
	store QueryStore
	audit *AuditService
	clock clock.Clock
}

func NewSettlementService(store QueryStore, clk clock.Clock) *SettlementService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &SettlementService{store: store, audit: NewAuditService(), clock: clk}
}

// normalize maps a provider-reported status onto a stored one.
func normalize(in SettleInput) (domain.OrderStatus, string) {
	switch in.Status {
	case domain.StatusExpired:
		return domain.StatusFailed, FailureReasonProviderExpired
	case domain.StatusFailed:
		return domain.StatusFailed, in.Message
	default:
		return in.Status, ""
	}
}

// Settle moves an order to the reported status. Terminal orders are left
// untouched and reported with Applied false, so duplicate deliveries are
// harmless. Every write, including the notification job, happens in one
// transaction.
func (s *SettlementService) Settle(ctx context.Context, in SettleInput) (SettleOutcome, error) {
	target, reason := normalize(in)
	var out SettleOutcome

	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		out = SettleOutcome{}
		order, err := q.GetOrderForUpdate(ctx, in.OrderID)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("order %s: %w", in.OrderID, domain.ErrOrderNotFound)
			}
			return fmt.Errorf("lock order: %w", err)
		}
		out.Order = order
		if order.Status == target {
			return nil
		}
		if err := domain.ValidateTransition(order.Status, target); err != nil {
			out.Rejected = err
			return nil
		}

		rows, err := q.SettleOrder(ctx, repository.SettleOrderParams{
			ID:              order.ID,
			Status:          target,
			SettlementRef:   in.SettlementRef,
			ProviderOrderID: in.ProviderOrderID,
			CallbackPayload: in.RawPayload,
			FailureReason:   reason,
		})
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if rows == 0 {
			// Lost the compare-and-swap to a concurrent settlement.
			return nil
		}

		prev := order.Status
		order.Status = target
		if in.SettlementRef != "" {
			order.SettlementRef = in.SettlementRef
		}
		if in.ProviderOrderID != "" {
			order.ProviderOrderID = in.ProviderOrderID
		}
		if reason != "" {
			order.FailureReason = reason
		}
		order.CallbackPayload = in.RawPayload

		if target.IsTerminal() {
			effect, err := s.applyLedger(ctx, q, &order, in.ActualAmount)
			if err != nil {
				return err
			}
			out.Effect = effect

			if !in.SkipNotification && order.CallbackURL != "" && !order.CallbackSent {
				if err := q.EnqueueNotification(ctx, repository.EnqueueNotificationParams{
					ID:          uuid.New(),
					OrderID:     order.ID,
					AvailableAt: s.clock.Now(),
				}); err != nil {
					return fmt.Errorf("enqueue notification: %w", err)
				}
				out.Enqueued = true
			}
		}

		if err := s.audit.Record(ctx, q, orderTransition{OrderID: order.ID, From: prev, To: target, Detail: map[string]any{
			"source":         in.Source,
			"settlement_ref": in.SettlementRef,
			"actual_amount":  in.ActualAmount,
			"corrected":      out.Effect.Corrected,
			"reason":         reason,
		}}); err != nil {
			return err
		}

		out.Order = order
		out.Applied = true
		return nil
	})
	if err != nil {
		return SettleOutcome{}, err
	}

	if out.Rejected != nil {
		zap.L().Warn("status change rejected",
			zap.String("order_id", out.Order.ID.String()),
			zap.String("reported", string(in.Status)),
			zap.String("source", in.Source),
			zap.Error(out.Rejected),
		)
	}
	if out.Applied && out.Order.Status.IsTerminal() {
		observability.IncrementSettlement(string(out.Order.Type), string(out.Order.Status))
		if out.Effect.Corrected {
			observability.IncrementDiscrepancy(out.Order.ServingChannel())
		}
		zap.L().Info("order settled",
			zap.String("order_id", out.Order.ID.String()),
			zap.String("merchant_order_id", out.Order.MerchantOrderID),
			zap.String("status", string(out.Order.Status)),
			zap.String("source", in.Source),
			zap.Bool("amount_corrected", out.Effect.Corrected),
		)
	}
	return out, nil
}

// applyLedger performs the balance mutations for a terminal transition.
// Every mutation is a relative increment.
func (s *SettlementService) applyLedger(ctx context.Context, q repository.Querier, order *models.Order, actualAmount int64) (domain.LedgerEffect, error) {
	effect := domain.ComputeLedgerEffect(order.Type, order.Status, order.Amounts(), actualAmount)
	if effect.IsZero() {
		return effect, nil
	}

	if effect.Corrected {
		rows, err := q.CorrectOrderAmounts(ctx, repository.CorrectOrderAmountsParams{
			ID:              order.ID,
			AmountMicros:    effect.Amounts.Amount,
			FeeMicros:       effect.Amounts.Fee,
			NetAmountMicros: effect.Amounts.Net,
		})
		if err != nil {
			return effect, fmt.Errorf("correct order amounts: %w", err)
		}
		if err := requireExactlyOne(rows, "correct order amounts"); err != nil {
			return effect, err
		}
		zap.L().Warn("settled amount differs from requested amount",
			zap.String("order_id", order.ID.String()),
			zap.Int64("requested_micros", order.AmountMicros),
			zap.Int64("actual_micros", actualAmount),
			zap.Int64("fee_micros", effect.Amounts.Fee),
		)
		order.AmountMicros = effect.Amounts.Amount
		order.FeeMicros = effect.Amounts.Fee
		order.NetAmountMicros = effect.Amounts.Net
	}

	if effect.MerchantBalanceDelta != 0 {
		rows, err := q.AdjustBalance(ctx, repository.AdjustBalanceParams{ID: order.MerchantID, DeltaMicros: effect.MerchantBalanceDelta})
		if err != nil {
			return effect, fmt.Errorf("adjust merchant balance: %w", err)
		}
		if err := requireExactlyOne(rows, "adjust merchant balance"); err != nil {
			return effect, err
		}
	}
	if effect.PendingRelease != 0 {
		rows, err := q.ReleasePendingFunds(ctx, repository.ReleasePendingFundsParams{ID: order.MerchantID, AmountMicros: effect.PendingRelease})
		if err != nil {
			return effect, fmt.Errorf("release pending funds: %w", err)
		}
		if err := requireExactlyOne(rows, "release pending funds"); err != nil {
			return effect, err
		}
	}
	if effect.PlatformBalanceDelta != 0 {
		platform, err := q.GetPlatformAccount(ctx)
		if err != nil {
			return effect, fmt.Errorf("load platform account: %w", err)
		}
		rows, err := q.AdjustBalance(ctx, repository.AdjustBalanceParams{ID: platform.ID, DeltaMicros: effect.PlatformBalanceDelta})
		if err != nil {
			return effect, fmt.Errorf("adjust platform balance: %w", err)
		}
		if err := requireExactlyOne(rows, "adjust platform balance"); err != nil {
			return effect, err
		}
	}
	return effect, nil
}
