// Package memstore is an in-memory implementation of repository.Querier with
// snapshot based transactions, used by unit tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type state struct {
	accounts    map[uuid.UUID]models.Account
	channels    map[string]models.Channel
	routes      []models.AmountRangeRoute
	orders      map[uuid.UUID]models.Order
	jobs        map[uuid.UUID]models.NotificationJob
	audit       []models.AuditEntry
	idempotency map[string]repository.IdempotencyKey
	seq         int64
}

func (s *state) clone() *state {
	c := &state{
		accounts:    make(map[uuid.UUID]models.Account, len(s.accounts)),
		channels:    make(map[string]models.Channel, len(s.channels)),
		routes:      append([]models.AmountRangeRoute(nil), s.routes...),
		orders:      make(map[uuid.UUID]models.Order, len(s.orders)),
		jobs:        make(map[uuid.UUID]models.NotificationJob, len(s.jobs)),
		audit:       append([]models.AuditEntry(nil), s.audit...),
		idempotency: make(map[string]repository.IdempotencyKey, len(s.idempotency)),
		seq:         s.seq,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.channels {
		c.channels[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// Store is safe for concurrent use. Transactions are serialized.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state
	now  func() time.Time

	failures map[string]error
}

// New returns an empty store holding the platform account.
func New() *Store {
	s := &Store{
		st: &state{
			accounts:    map[uuid.UUID]models.Account{},
			channels:    map[string]models.Channel{},
			orders:      map[uuid.UUID]models.Order{},
			jobs:        map[uuid.UUID]models.NotificationJob{},
			idempotency: map[string]repository.IdempotencyKey{},
		},
		now:      func() time.Time { return time.Now().UTC() },
		failures: map[string]error{},
	}
	s.st.accounts[PlatformAccountID] = models.Account{ID: PlatformAccountID, Kind: domain.AccountKindPlatform, Name: "platform"}
	return s
}

// PlatformAccountID is the id of the seeded platform account.
var PlatformAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// SetClock overrides the timestamp source used for created/updated fields.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// FailOn makes the named method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) fail(method string) error {
	return s.failures[method]
}

func (s *Store) Queries() repository.Querier { return s }

// RunInTx runs fn against the store; when fn fails every mutation it made is discarded.
func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Seeding and inspection helpers.

func (s *Store) AddAccount(a models.Account) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Kind == "" {
		a.Kind = domain.AccountKindMerchant
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.st.accounts[a.ID] = a
	return a
}

func (s *Store) AddChannel(c models.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.channels[c.Name] = c
}

func (s *Store) AddRoute(r models.AmountRangeRoute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.st.routes = append(s.st.routes, r)
}

func (s *Store) Account(id uuid.UUID) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.accounts[id]
}

func (s *Store) Platform() models.Account {
	return s.Account(PlatformAccountID)
}

func (s *Store) Order(id uuid.UUID) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.orders[id]
}

// PutOrder stores o as-is, bypassing CreateOrder validation.
func (s *Store) PutOrder(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	s.st.orders[o.ID] = o
}

func (s *Store) Jobs() []models.NotificationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.NotificationJob, 0, len(s.st.jobs))
	for _, j := range s.st.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

func (s *Store) AuditEntries() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEntry(nil), s.st.audit...)
}

// Accounts

func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetAccount"); err != nil {
		return models.Account{}, err
	}
	a, ok := s.st.accounts[id]
	if !ok {
		return models.Account{}, pgx.ErrNoRows
	}
	return a, nil
}

func (s *Store) GetAccountByAPIKey(_ context.Context, apiKey string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.st.accounts {
		if a.Kind == domain.AccountKindMerchant && a.APIKey != "" && a.APIKey == apiKey {
			return a, nil
		}
	}
	return models.Account{}, pgx.ErrNoRows
}

func (s *Store) GetPlatformAccount(_ context.Context) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.st.accounts {
		if a.Kind == domain.AccountKindPlatform {
			return a, nil
		}
	}
	return models.Account{}, pgx.ErrNoRows
}

func (s *Store) AdjustBalance(_ context.Context, arg repository.AdjustBalanceParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AdjustBalance"); err != nil {
		return 0, err
	}
	a, ok := s.st.accounts[arg.ID]
	if !ok {
		return 0, nil
	}
	a.BalanceMicros += arg.DeltaMicros
	s.st.accounts[arg.ID] = a
	return 1, nil
}

func (s *Store) ReservePayoutFunds(_ context.Context, arg repository.ReservePayoutFundsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.accounts[arg.ID]
	if !ok || a.BalanceMicros < arg.DebitMicros {
		return 0, nil
	}
	a.BalanceMicros -= arg.DebitMicros
	a.PendingBalanceMicros += arg.PendingMicros
	s.st.accounts[arg.ID] = a
	return 1, nil
}

func (s *Store) ReleasePendingFunds(_ context.Context, arg repository.ReleasePendingFundsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.accounts[arg.ID]
	if !ok {
		return 0, nil
	}
	a.PendingBalanceMicros -= arg.AmountMicros
	if a.PendingBalanceMicros < 0 {
		a.PendingBalanceMicros = 0
	}
	s.st.accounts[arg.ID] = a
	return 1, nil
}

// Channels and routes

func (s *Store) GetChannel(_ context.Context, name string) (models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.channels[name]
	if !ok {
		return models.Channel{}, pgx.ErrNoRows
	}
	return c, nil
}

func (s *Store) ListChannels(_ context.Context) ([]models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Channel, 0, len(s.st.channels))
	for _, c := range s.st.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

func (s *Store) UpsertChannel(_ context.Context, arg models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.channels[arg.Name] = arg
	return nil
}

func (s *Store) ListActiveRoutes(_ context.Context) ([]models.AmountRangeRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AmountRangeRoute
	for _, r := range s.st.routes {
		c, ok := s.st.channels[r.Channel]
		if !r.Active || !ok || !c.Active {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority > out[k].Priority
		}
		return out[i].MinAmountMicros < out[k].MinAmountMicros
	})
	return out, nil
}

func (s *Store) DeleteRoutes(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.routes = nil
	return nil
}

func (s *Store) InsertRoute(_ context.Context, arg models.AmountRangeRoute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if arg.ID == uuid.Nil {
		arg.ID = uuid.New()
	}
	s.st.routes = append(s.st.routes, arg)
	return nil
}

// Orders

func (s *Store) CreateOrder(_ context.Context, arg *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateOrder"); err != nil {
		return err
	}
	for _, o := range s.st.orders {
		if o.MerchantID == arg.MerchantID && o.MerchantOrderID == arg.MerchantOrderID {
			return fmt.Errorf("merchant order %q: %w", arg.MerchantOrderID, domain.ErrDuplicateOrder)
		}
	}
	now := s.now()
	arg.CreatedAt = now
	arg.UpdatedAt = now
	s.st.orders[arg.ID] = *arg
	return nil
}

func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return models.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (s *Store) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (models.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *Store) GetOrderByMerchantOrderID(_ context.Context, arg repository.GetOrderByMerchantOrderIDParams) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.st.orders {
		if o.MerchantID == arg.MerchantID && o.MerchantOrderID == arg.MerchantOrderID && (arg.Type == "" || o.Type == arg.Type) {
			return o, nil
		}
	}
	return models.Order{}, pgx.ErrNoRows
}

func (s *Store) UpdateOrderProviderResult(_ context.Context, arg repository.UpdateOrderProviderResultParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[arg.ID]
	if !ok || o.Status != domain.StatusPending {
		return 0, nil
	}
	o.Status = arg.Status
	o.ProviderOrderID = arg.ProviderOrderID
	o.PayURL = arg.PayURL
	o.ProviderResponse = arg.ProviderResponse
	o.FailureReason = arg.FailureReason
	o.UpdatedAt = s.now()
	s.st.orders[arg.ID] = o
	return 1, nil
}

func (s *Store) SettleOrder(_ context.Context, arg repository.SettleOrderParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SettleOrder"); err != nil {
		return 0, err
	}
	o, ok := s.st.orders[arg.ID]
	if !ok || o.Status.IsTerminal() {
		return 0, nil
	}
	o.Status = arg.Status
	if arg.SettlementRef != "" {
		o.SettlementRef = arg.SettlementRef
	}
	if arg.ProviderOrderID != "" {
		o.ProviderOrderID = arg.ProviderOrderID
	}
	o.CallbackPayload = arg.CallbackPayload
	if arg.FailureReason != "" {
		o.FailureReason = arg.FailureReason
	}
	o.UpdatedAt = s.now()
	s.st.orders[arg.ID] = o
	return 1, nil
}

func (s *Store) CorrectOrderAmounts(_ context.Context, arg repository.CorrectOrderAmountsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[arg.ID]
	if !ok {
		return 0, nil
	}
	o.AmountMicros = arg.AmountMicros
	o.FeeMicros = arg.FeeMicros
	o.NetAmountMicros = arg.NetAmountMicros
	s.st.orders[arg.ID] = o
	return 1, nil
}

func (s *Store) ListStaleOrders(_ context.Context, arg repository.ListStaleOrdersParams) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.st.orders {
		if o.Status.IsTerminal() || !o.CreatedAt.Before(arg.CreatedBefore) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if arg.Limit > 0 && len(out) > int(arg.Limit) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (s *Store) IncrementCallbackAttempts(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	o.CallbackAttempts++
	s.st.orders[id] = o
	return o.CallbackAttempts, nil
}

func (s *Store) MarkCallbackSent(_ context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok || o.CallbackSent {
		return 0, nil
	}
	o.CallbackSent = true
	s.st.orders[id] = o
	return 1, nil
}

// Notification jobs

func (s *Store) EnqueueNotification(_ context.Context, arg repository.EnqueueNotificationParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("EnqueueNotification"); err != nil {
		return err
	}
	for _, j := range s.st.jobs {
		if j.OrderID == arg.OrderID && j.Status == domain.JobStatusPending {
			return nil
		}
	}
	now := s.now()
	s.st.jobs[arg.ID] = models.NotificationJob{
		ID:          arg.ID,
		OrderID:     arg.OrderID,
		Status:      domain.JobStatusPending,
		AvailableAt: arg.AvailableAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

func (s *Store) ClaimDueNotifications(_ context.Context, arg repository.ClaimDueNotificationsParams) ([]models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.NotificationJob
	for _, j := range s.st.jobs {
		if j.Status != domain.JobStatusPending || j.AvailableAt.After(arg.Now) {
			continue
		}
		if j.LockedUntil != nil && !j.LockedUntil.Before(arg.Now) {
			continue
		}
		due = append(due, j)
	}
	sort.Slice(due, func(i, k int) bool { return due[i].AvailableAt.Before(due[k].AvailableAt) })
	if arg.Limit > 0 && len(due) > int(arg.Limit) {
		due = due[:arg.Limit]
	}
	for i := range due {
		lease := arg.LeaseUntil
		due[i].Attempt++
		due[i].LockedUntil = &lease
		s.st.jobs[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *Store) CompleteNotification(_ context.Context, id uuid.UUID) (int64, error) {
	return s.updateJob(id, func(j *models.NotificationJob) {
		j.Status = domain.JobStatusDone
	})
}

func (s *Store) RescheduleNotification(_ context.Context, arg repository.RescheduleNotificationParams) (int64, error) {
	return s.updateJob(arg.ID, func(j *models.NotificationJob) {
		j.AvailableAt = arg.AvailableAt
		j.LastError = arg.LastError
	})
}

func (s *Store) KillNotification(_ context.Context, arg repository.KillNotificationParams) (int64, error) {
	return s.updateJob(arg.ID, func(j *models.NotificationJob) {
		j.Status = domain.JobStatusDead
		j.LastError = arg.LastError
	})
}

func (s *Store) updateJob(id uuid.UUID, mutate func(*models.NotificationJob)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.st.jobs[id]
	if !ok || j.Status != domain.JobStatusPending {
		return 0, nil
	}
	mutate(&j)
	j.LockedUntil = nil
	j.UpdatedAt = s.now()
	s.st.jobs[id] = j
	return 1, nil
}

func (s *Store) ListDeadNotifications(_ context.Context, limit int32) ([]models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationJob
	for _, j := range s.st.jobs {
		if j.Status == domain.JobStatusDead {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

// Audit

func (s *Store) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertAuditLog"); err != nil {
		return 0, err
	}
	s.st.seq++
	entry := models.AuditEntry{
		EntityType: arg.EntityType,
		EntityID:   repository.FromPgUUID(arg.EntityID),
		Action:     arg.Action,
		Metadata:   arg.Metadata,
		CreatedAt:  s.now(),
	}
	if arg.ActorID.Valid {
		actor := repository.FromPgUUID(arg.ActorID)
		entry.ActorID = &actor
	}
	if arg.PrevState != nil {
		entry.PrevState = *arg.PrevState
	}
	if arg.NextState != nil {
		entry.NextState = *arg.NextState
	}
	s.st.audit = append(s.st.audit, entry)
	return s.st.seq, nil
}

// Idempotency keys

func (s *Store) GetIdempotencyKey(_ context.Context, key string) (repository.IdempotencyKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.idempotency[key]
	if !ok {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	return rec, nil
}

func (s *Store) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.idempotency[arg.IdempotencyKey]; ok {
		return "", pgx.ErrNoRows
	}
	s.st.idempotency[arg.IdempotencyKey] = repository.IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		InProgress:     true,
	}
	return arg.IdempotencyKey, nil
}

func (s *Store) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.idempotency[arg.IdempotencyKey]
	if !ok || rec.RequestHash != arg.RequestHash {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	rec.InProgress = false
	rec.ResponseStatus = arg.ResponseStatus
	rec.ResponseBody = arg.ResponseBody
	rec.ContentType = arg.ContentType
	s.st.idempotency[arg.IdempotencyKey] = rec
	return rec, nil
}

func (s *Store) ReleaseIdempotencyKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.st.idempotency[key]; ok && rec.InProgress {
		delete(s.st.idempotency, key)
	}
	return nil
}

var _ repository.Querier = (*Store)(nil)
