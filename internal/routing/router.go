package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/provider"
)

// RouteLister supplies the active amount range routes.
type RouteLister interface {
	ListActiveRoutes(ctx context.Context) ([]models.AmountRangeRoute, error)
}

// Router dispatches provider calls by channel name. Requests for a dynamic
// channel are first resolved to a concrete channel by amount.
type Router struct {
	registry      *Registry
	routes        RouteLister
	publicBaseURL string
}

func NewRouter(registry *Registry, routes RouteLister, publicBaseURL string) *Router {
	return &Router{registry: registry, routes: routes, publicBaseURL: publicBaseURL}
}

func (r *Router) Registry() *Registry { return r.registry }

// Resolution is the outcome of resolving a requested channel.
type Resolution struct {
	Requested string
	Entry     Entry // always concrete
	Dynamic   bool
}

// Actual returns the concrete channel name to persist on the order, empty
// when no dynamic routing took place.
func (res Resolution) Actual() string {
	if !res.Dynamic {
		return ""
	}
	return res.Entry.Name
}

// Resolve maps channel to the concrete entry serving amount.
func (r *Router) Resolve(ctx context.Context, channel string, amount int64) (Resolution, error) {
	entry, ok := r.registry.Lookup(channel)
	if !ok {
		return Resolution{}, fmt.Errorf("channel %q: %w", channel, domain.ErrUnknownChannel)
	}
	if !entry.Dynamic {
		return Resolution{Requested: channel, Entry: entry}, nil
	}
	routes, err := r.routes.ListActiveRoutes(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("load routes: %w", err)
	}
	route, err := SelectRoute(routes, amount)
	if err != nil {
		return Resolution{}, err
	}
	target, ok := r.registry.Lookup(route.Channel)
	if !ok || target.Dynamic {
		return Resolution{}, fmt.Errorf("route target %q: %w", route.Channel, domain.ErrUnknownChannel)
	}
	return Resolution{Requested: channel, Entry: target, Dynamic: true}, nil
}

// SelectRoute picks the active route containing amount with the highest
// priority, preferring the lowest lower bound on ties.
func SelectRoute(routes []models.AmountRangeRoute, amount int64) (models.AmountRangeRoute, error) {
	candidates := make([]models.AmountRangeRoute, 0, len(routes))
	for _, rt := range routes {
		if rt.Active && rt.Contains(amount) {
			candidates = append(candidates, rt)
		}
	}
	if len(candidates) == 0 {
		return models.AmountRangeRoute{}, domain.ErrNoRoute
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].MinAmountMicros < candidates[j].MinAmountMicros
	})
	return candidates[0], nil
}

// NotifyURL is the callback endpoint a provider should call for channel.
func (r *Router) NotifyURL(channel string, orderType domain.OrderType) string {
	return fmt.Sprintf("%s/callbacks/%s/%s", r.publicBaseURL, channel, orderType)
}

func unknownChannel(channel string) string {
	return fmt.Sprintf("channel %q: %v", channel, domain.ErrUnknownChannel)
}

// CreatePayin sends req to the adapter of a concrete channel. The notify URL
// is always the channel's own callback path.
func (r *Router) CreatePayin(ctx context.Context, channel string, req provider.PayinRequest) provider.PayinResult {
	adapter, err := r.registry.Adapter(channel)
	if err != nil {
		return provider.PayinResult{Error: unknownChannel(channel)}
	}
	req.NotifyURL = r.NotifyURL(channel, domain.OrderTypePayin)
	return adapter.CreatePayin(ctx, req)
}

func (r *Router) CreatePayout(ctx context.Context, channel string, req provider.PayoutRequest) provider.PayoutResult {
	adapter, err := r.registry.Adapter(channel)
	if err != nil {
		return provider.PayoutResult{Error: unknownChannel(channel)}
	}
	req.NotifyURL = r.NotifyURL(channel, domain.OrderTypePayout)
	return adapter.CreatePayout(ctx, req)
}

func (r *Router) QueryPayin(ctx context.Context, channel, orderID string) provider.QueryResult {
	adapter, err := r.registry.Adapter(channel)
	if err != nil {
		return provider.QueryResult{Error: unknownChannel(channel)}
	}
	return adapter.QueryPayin(ctx, orderID)
}

func (r *Router) QueryPayout(ctx context.Context, channel, orderID string) provider.QueryResult {
	adapter, err := r.registry.Adapter(channel)
	if err != nil {
		return provider.QueryResult{Error: unknownChannel(channel)}
	}
	return adapter.QueryPayout(ctx, orderID)
}

// Query dispatches to QueryPayin or QueryPayout by order type.
func (r *Router) Query(ctx context.Context, channel string, orderType domain.OrderType, orderID string) provider.QueryResult {
	if orderType == domain.OrderTypePayout {
		return r.QueryPayout(ctx, channel, orderID)
	}
	return r.QueryPayin(ctx, channel, orderID)
}
