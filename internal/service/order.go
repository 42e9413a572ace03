package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/clock"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/observability"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/ayo6706/payment-aggregator/internal/routing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxMerchantOrderIDLen = 64
	maxParamLen           = 512
	defaultOrderTTL       = 30 * time.Minute
)

type CreatePayinInput struct {
	MerchantID      uuid.UUID
	MerchantOrderID string
	Channel         string
	Amount          int64 // micros
	CallbackURL     string
	Param           string
	Customer        provider.Customer
}

type CreatePayoutInput struct {
	MerchantID      uuid.UUID
	MerchantOrderID string
	Channel         string
	Amount          int64 // micros
	CallbackURL     string
	Param           string
	Destination     models.PayoutDestination
}

// OrderService creates orders and serves merchant reads.
type OrderService struct {
	store      QueryStore
	router     *routing.Router
	settlement *SettlementService
	audit      *AuditService
	clock      clock.Clock
	orderTTL   time.Duration
}

func NewOrderService(store QueryStore, router *routing.Router, settlement *SettlementService, clk clock.Clock, orderTTL time.Duration) *OrderService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if orderTTL <= 0 {
		orderTTL = defaultOrderTTL
	}
	return &OrderService{
		store:      store,
		router:     router,
		settlement: settlement,
		audit:      NewAuditService(),
		clock:      clk,
		orderTTL:   orderTTL,
	}
}

// CreatePayin validates and persists a collection order, then asks the
// serving provider for a payment page. A provider refusal leaves the order
// failed and is reported as *domain.UpstreamProviderError.
func (s *OrderService) CreatePayin(ctx context.Context, in CreatePayinInput) (models.Order, error) {
	if err := validateCommon(in.MerchantOrderID, in.Channel, in.Amount, in.CallbackURL, in.Param); err != nil {
		return models.Order{}, err
	}
	merchant, err := s.loadMerchant(ctx, in.MerchantID)
	if err != nil {
		return models.Order{}, err
	}
	if !merchant.CanPayin {
		return models.Order{}, fmt.Errorf("payin: %w", domain.ErrCapabilityDisabled)
	}
	res, err := s.resolve(ctx, in.Channel, in.Amount)
	if err != nil {
		return models.Order{}, err
	}
	rate := pickRate(merchant.PayinRate, res.Entry.Channel.DefaultRate)
	fee, net, err := rate.Split(in.Amount)
	if err != nil {
		return models.Order{}, domain.NewValidationError("amount", err.Error())
	}

	now := s.clock.Now()
	order := models.Order{
		ID:                   uuid.New(),
		MerchantID:           merchant.ID,
		MerchantOrderID:      in.MerchantOrderID,
		Channel:              in.Channel,
		ActualChannel:        res.Actual(),
		Type:                 domain.OrderTypePayin,
		AmountMicros:         in.Amount,
		OriginalAmountMicros: in.Amount,
		FeeMicros:            fee,
		NetAmountMicros:      net,
		Status:               domain.StatusPending,
		CallbackURL:          in.CallbackURL,
		Param:                in.Param,
		ExpiresAt:            now.Add(s.orderTTL),
	}
	if err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		if err := q.CreateOrder(ctx, &order); err != nil {
			return err
		}
		return s.audit.Record(ctx, q, orderTransition{OrderID: order.ID, To: domain.StatusPending, Detail: map[string]any{
			"channel":        in.Channel,
			"actual_channel": order.ActualChannel,
		}})
	}); err != nil {
		return models.Order{}, fmt.Errorf("create payin: %w", err)
	}

	result := s.router.CreatePayin(ctx, res.Entry.Name, provider.PayinRequest{
		OrderID:  order.UpstreamRef(),
		Amount:   order.AmountMicros,
		Customer: in.Customer,
	})
	observability.IncrementProviderCall(res.Entry.Name, "create_payin", result.Success)
	if !result.Success {
		return s.failCreation(ctx, order, res.Entry.Name, result.Error)
	}
	return s.markProcessing(ctx, order, repository.UpdateOrderProviderResultParams{
		ID:               order.ID,
		Status:           domain.StatusProcessing,
		ProviderOrderID:  result.ProviderOrderID,
		PayURL:           result.PayURL,
		ProviderResponse: result.Raw,
	})
}

// CreatePayout validates a disbursement, reserves amount+fee from the
// merchant's balance and forwards it to the serving provider. If the provider
// refuses, the reservation is reversed in full.
func (s *OrderService) CreatePayout(ctx context.Context, in CreatePayoutInput) (models.Order, error) {
	if err := validateCommon(in.MerchantOrderID, in.Channel, in.Amount, in.CallbackURL, in.Param); err != nil {
		return models.Order{}, err
	}
	if err := validateDestination(in.Destination); err != nil {
		return models.Order{}, err
	}
	merchant, err := s.loadMerchant(ctx, in.MerchantID)
	if err != nil {
		return models.Order{}, err
	}
	if !merchant.CanPayout {
		return models.Order{}, fmt.Errorf("payout: %w", domain.ErrCapabilityDisabled)
	}
	res, err := s.resolve(ctx, in.Channel, in.Amount)
	if err != nil {
		return models.Order{}, err
	}
	rate := pickRate(merchant.PayoutRate, res.Entry.Channel.DefaultRate)
	fee, net, err := rate.Split(in.Amount)
	if err != nil {
		return models.Order{}, domain.NewValidationError("amount", err.Error())
	}

	dest := in.Destination
	upstreamAmount := in.Amount
	if dest.Kind == domain.PayoutKindStablecoin {
		sc := *dest.Stablecoin
		conversion := merchant.PayoutRate
		if conversion.ConversionRate.IsZero() {
			conversion = res.Entry.Channel.DefaultRate
		}
		sc.ConvertedAmountMicros = conversion.Convert(in.Amount)
		dest.Stablecoin = &sc
		upstreamAmount = sc.ConvertedAmountMicros
	}

	now := s.clock.Now()
	order := models.Order{
		ID:                   uuid.New(),
		MerchantID:           merchant.ID,
		MerchantOrderID:      in.MerchantOrderID,
		Channel:              in.Channel,
		ActualChannel:        res.Actual(),
		Type:                 domain.OrderTypePayout,
		PayoutKind:           dest.Kind,
		AmountMicros:         in.Amount,
		OriginalAmountMicros: in.Amount,
		FeeMicros:            fee,
		NetAmountMicros:      net,
		Status:               domain.StatusPending,
		CallbackURL:          in.CallbackURL,
		Param:                in.Param,
		Destination:          &dest,
		ExpiresAt:            now.Add(s.orderTTL),
	}
	if err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		if err := q.CreateOrder(ctx, &order); err != nil {
			return err
		}
		rows, err := q.ReservePayoutFunds(ctx, repository.ReservePayoutFundsParams{
			ID:            merchant.ID,
			DebitMicros:   in.Amount + fee,
			PendingMicros: in.Amount,
		})
		if err != nil {
			return fmt.Errorf("reserve payout funds: %w", err)
		}
		if rows == 0 {
			return domain.ErrInsufficientFunds
		}
		return s.audit.Record(ctx, q, orderTransition{OrderID: order.ID, To: domain.StatusPending, Detail: map[string]any{
			"channel":        in.Channel,
			"actual_channel": order.ActualChannel,
			"reserved":       in.Amount + fee,
		}})
	}); err != nil {
		return models.Order{}, fmt.Errorf("create payout: %w", err)
	}

	result := s.router.CreatePayout(ctx, res.Entry.Name, provider.PayoutRequest{
		OrderID:     order.UpstreamRef(),
		Amount:      upstreamAmount,
		Beneficiary: beneficiary(dest),
	})
	observability.IncrementProviderCall(res.Entry.Name, "create_payout", result.Success)
	if !result.Success {
		return s.failCreation(ctx, order, res.Entry.Name, result.Error)
	}
	return s.markProcessing(ctx, order, repository.UpdateOrderProviderResultParams{
		ID:               order.ID,
		Status:           domain.StatusProcessing,
		ProviderOrderID:  result.ProviderOrderID,
		ProviderResponse: result.Raw,
	})
}

// GetOrder returns a merchant's order with its effective status. An empty
// orderType matches either type.
func (s *OrderService) GetOrder(ctx context.Context, merchantID uuid.UUID, merchantOrderID string, orderType domain.OrderType) (models.Order, error) {
	order, err := s.store.Queries().GetOrderByMerchantOrderID(ctx, repository.GetOrderByMerchantOrderIDParams{
		MerchantID:      merchantID,
		MerchantOrderID: merchantOrderID,
		Type:            orderType,
	})
	if err != nil {
		if isNotFound(err) {
			return models.Order{}, domain.ErrOrderNotFound
		}
		return models.Order{}, fmt.Errorf("get order: %w", err)
	}
	order.Status = order.EffectiveStatus(s.clock.Now())
	return order, nil
}

// GetOrderByID is the operator lookup; it also applies the effective status.
func (s *OrderService) GetOrderByID(ctx context.Context, id uuid.UUID) (models.Order, error) {
	order, err := s.store.Queries().GetOrder(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return models.Order{}, domain.ErrOrderNotFound
		}
		return models.Order{}, fmt.Errorf("get order: %w", err)
	}
	order.Status = order.EffectiveStatus(s.clock.Now())
	return order, nil
}

func (s *OrderService) GetBalance(ctx context.Context, merchantID uuid.UUID) (models.Account, error) {
	return s.loadMerchant(ctx, merchantID)
}

func (s *OrderService) loadMerchant(ctx context.Context, id uuid.UUID) (models.Account, error) {
	acct, err := s.store.Queries().GetAccount(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return models.Account{}, domain.ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("load merchant: %w", err)
	}
	if acct.Kind != domain.AccountKindMerchant {
		return models.Account{}, domain.ErrAccountNotFound
	}
	return acct, nil
}

func (s *OrderService) resolve(ctx context.Context, channel string, amount int64) (routing.Resolution, error) {
	res, err := s.router.Resolve(ctx, channel, amount)
	if err != nil {
		return routing.Resolution{}, err
	}
	ch := res.Entry.Channel
	if !ch.Active {
		return routing.Resolution{}, fmt.Errorf("channel %q: %w", res.Entry.Name, domain.ErrChannelInactive)
	}
	if !ch.AllowsAmount(amount) {
		return routing.Resolution{}, fmt.Errorf("channel %q accepts %s to %s: %w",
			res.Entry.Name, domain.FormatAmount(ch.MinAmountMicros), formatMax(ch.MaxAmountMicros), domain.ErrAmountOutOfRange)
	}
	return res, nil
}

// failCreation settles a freshly created order as failed through the normal
// settlement path, which also reverses any payout reservation.
func (s *OrderService) failCreation(ctx context.Context, order models.Order, channel, message string) (models.Order, error) {
	if message == "" {
		message = "provider rejected the request"
	}
	zap.L().Warn("provider rejected order",
		zap.String("order_id", order.ID.String()),
		zap.String("channel", channel),
		zap.String("error", message),
	)
	out, err := s.settlement.Settle(context.WithoutCancel(ctx), SettleInput{
		OrderID:          order.ID,
		Status:           domain.StatusFailed,
		Message:          message,
		Source:           "creation",
		SkipNotification: true,
	})
	if err != nil {
		return order, fmt.Errorf("mark order failed: %w", err)
	}
	return out.Order, &domain.UpstreamProviderError{Channel: channel, Message: message}
}

func (s *OrderService) markProcessing(ctx context.Context, order models.Order, arg repository.UpdateOrderProviderResultParams) (models.Order, error) {
	rows, err := s.store.Queries().UpdateOrderProviderResult(ctx, arg)
	if err != nil {
		return order, fmt.Errorf("store provider result: %w", err)
	}
	if rows == 0 {
		// A callback beat us to it; whatever it wrote is newer.
		zap.L().Info("order moved on before provider result was stored", zap.String("order_id", order.ID.String()))
	}
	fresh, err := s.store.Queries().GetOrder(ctx, order.ID)
	if err != nil {
		return order, fmt.Errorf("reload order: %w", err)
	}
	if fresh.PayURL == "" {
		fresh.PayURL = arg.PayURL
	}
	return fresh, nil
}

func pickRate(merchant, channelDefault domain.RateConfig) domain.RateConfig {
	if merchant.IsZero() {
		return channelDefault
	}
	return merchant
}

func formatMax(v int64) string {
	if v == 0 {
		return "unbounded"
	}
	return domain.FormatAmount(v)
}

func beneficiary(dest models.PayoutDestination) provider.Beneficiary {
	b := provider.Beneficiary{Kind: dest.Kind}
	switch dest.Kind {
	case domain.PayoutKindBank:
		b.AccountName = dest.Bank.AccountName
		b.AccountNumber = dest.Bank.AccountNumber
		b.IFSC = dest.Bank.IFSC
		b.BankName = dest.Bank.BankName
	case domain.PayoutKindStablecoin:
		b.Network = dest.Stablecoin.Network
		b.Address = dest.Stablecoin.Address
	}
	return b
}

func validateCommon(merchantOrderID, channel string, amount int64, callbackURL, param string) error {
	id := strings.TrimSpace(merchantOrderID)
	switch {
	case id == "":
		return domain.NewValidationError("merchantOrderId", "is required")
	case id != merchantOrderID:
		return domain.NewValidationError("merchantOrderId", "must not have surrounding whitespace")
	case len(id) > maxMerchantOrderIDLen:
		return domain.NewValidationError("merchantOrderId", fmt.Sprintf("must be at most %d characters", maxMerchantOrderIDLen))
	}
	if strings.TrimSpace(channel) == "" {
		return domain.NewValidationError("channel", "is required")
	}
	if amount <= 0 {
		return domain.NewValidationError("amount", "must be positive")
	}
	if amount%(domain.MicrosPerUnit/100) != 0 {
		return domain.NewValidationError("amount", "must have at most two decimal places")
	}
	if callbackURL != "" {
		u, err := url.Parse(callbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return domain.NewValidationError("callbackUrl", "must be an absolute http(s) URL")
		}
	}
	if len(param) > maxParamLen {
		return domain.NewValidationError("param", fmt.Sprintf("must be at most %d characters", maxParamLen))
	}
	return nil
}

func validateDestination(d models.PayoutDestination) error {
	switch d.Kind {
	case domain.PayoutKindBank:
		if d.Bank == nil || d.Stablecoin != nil {
			return domain.NewValidationError("destination.bank", "is required for bank payouts")
		}
		if strings.TrimSpace(d.Bank.AccountName) == "" {
			return domain.NewValidationError("destination.bank.accountName", "is required")
		}
		if strings.TrimSpace(d.Bank.AccountNumber) == "" {
			return domain.NewValidationError("destination.bank.accountNumber", "is required")
		}
		if strings.TrimSpace(d.Bank.IFSC) == "" {
			return domain.NewValidationError("destination.bank.ifsc", "is required")
		}
	case domain.PayoutKindStablecoin:
		if d.Stablecoin == nil || d.Bank != nil {
			return domain.NewValidationError("destination.stablecoin", "is required for stablecoin payouts")
		}
		if strings.TrimSpace(d.Stablecoin.Network) == "" {
			return domain.NewValidationError("destination.stablecoin.network", "is required")
		}
		if strings.TrimSpace(d.Stablecoin.Address) == "" {
			return domain.NewValidationError("destination.stablecoin.address", "is required")
		}
	default:
		return domain.NewValidationError("destination.kind", "must be bank or stablecoin")
	}
	return nil
}

// IsClientError reports whether err stems from the caller's request rather
// than from the platform or a provider.
func IsClientError(err error) bool {
	for _, target := range []error{
		domain.ErrValidation,
		domain.ErrDuplicateOrder,
		domain.ErrInsufficientFunds,
		domain.ErrUnknownChannel,
		domain.ErrNoRoute,
		domain.ErrChannelInactive,
		domain.ErrAmountOutOfRange,
		domain.ErrCapabilityDisabled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
