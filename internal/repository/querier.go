package repository

import (
	"context"

	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/google/uuid"
)

// Querier is the data access surface used by services. *Queries implements it
// against Postgres; tests substitute an in-memory version.
type Querier interface {
	GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error)
	GetAccountByAPIKey(ctx context.Context, apiKey string) (models.Account, error)
	GetPlatformAccount(ctx context.Context) (models.Account, error)
	AdjustBalance(ctx context.Context, arg AdjustBalanceParams) (int64, error)
	ReservePayoutFunds(ctx context.Context, arg ReservePayoutFundsParams) (int64, error)
	ReleasePendingFunds(ctx context.Context, arg ReleasePendingFundsParams) (int64, error)

	GetChannel(ctx context.Context, name string) (models.Channel, error)
	ListChannels(ctx context.Context) ([]models.Channel, error)
	UpsertChannel(ctx context.Context, arg models.Channel) error
	ListActiveRoutes(ctx context.Context) ([]models.AmountRangeRoute, error)
	DeleteRoutes(ctx context.Context) error
	InsertRoute(ctx context.Context, arg models.AmountRangeRoute) error

	CreateOrder(ctx context.Context, arg *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error)
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (models.Order, error)
	GetOrderByMerchantOrderID(ctx context.Context, arg GetOrderByMerchantOrderIDParams) (models.Order, error)
	UpdateOrderProviderResult(ctx context.Context, arg UpdateOrderProviderResultParams) (int64, error)
	SettleOrder(ctx context.Context, arg SettleOrderParams) (int64, error)
	CorrectOrderAmounts(ctx context.Context, arg CorrectOrderAmountsParams) (int64, error)
	ListStaleOrders(ctx context.Context, arg ListStaleOrdersParams) ([]models.Order, error)
	IncrementCallbackAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkCallbackSent(ctx context.Context, id uuid.UUID) (int64, error)

	EnqueueNotification(ctx context.Context, arg EnqueueNotificationParams) error
	ClaimDueNotifications(ctx context.Context, arg ClaimDueNotificationsParams) ([]models.NotificationJob, error)
	CompleteNotification(ctx context.Context, id uuid.UUID) (int64, error)
	RescheduleNotification(ctx context.Context, arg RescheduleNotificationParams) (int64, error)
	KillNotification(ctx context.Context, arg KillNotificationParams) (int64, error)
	ListDeadNotifications(ctx context.Context, limit int32) ([]models.NotificationJob, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error)

	GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (string, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

var _ Querier = (*Queries)(nil)
