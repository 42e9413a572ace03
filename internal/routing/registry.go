// Package routing resolves a merchant-requested channel to the provider
// adapter that serves it, including amount based dynamic routing.
package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/ayo6706/payment-aggregator/internal/config"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"go.uber.org/zap"
)

// Entry is one configured channel.
type Entry struct {
	Name             string
	DisplayName      string
	Adapter          provider.Adapter // nil for dynamic channels
	HostsPaymentPage bool
	StrictSignature  bool
	Dynamic          bool
	Channel          models.Channel
}

// Registry is the static channel table. It is built once at startup and is
// safe for concurrent reads.
type Registry struct {
	entries map[string]Entry
	routes  []models.AmountRangeRoute
}

// NewRegistry instantiates an adapter for every non-dynamic channel in file.
func NewRegistry(factories *provider.Registry, file *config.ChannelsFile, deps provider.Deps) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(file.Channels))}
	for _, cc := range file.Channels {
		channel, err := cc.Model()
		if err != nil {
			return nil, err
		}
		entry := Entry{
			Name:             cc.Name,
			DisplayName:      cc.DisplayName,
			HostsPaymentPage: cc.HostsPaymentPage,
			StrictSignature:  cc.StrictSignature,
			Dynamic:          cc.Dynamic,
			Channel:          channel,
		}
		if entry.DisplayName == "" {
			entry.DisplayName = cc.Name
		}
		if !cc.Dynamic {
			adapter, err := factories.Create(cc.Name, cc.Provider, deps)
			if err != nil {
				return nil, err
			}
			entry.Adapter = adapter
		}
		r.entries[cc.Name] = entry
	}
	for i, rc := range file.Routes {
		route, err := rc.Model()
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		r.routes = append(r.routes, route)
	}
	return r, nil
}

// NewStaticRegistry builds a registry from ready-made entries.
func NewStaticRegistry(entries ...Entry) *Registry {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.Channel.Name == "" {
			e.Channel = models.Channel{Name: e.Name, Active: true, HostsPaymentPage: e.HostsPaymentPage}
		}
		r.entries[e.Name] = e
	}
	return r
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Adapter returns the adapter for a concrete channel.
func (r *Registry) Adapter(name string) (provider.Adapter, error) {
	e, ok := r.entries[name]
	if !ok || e.Adapter == nil {
		return nil, fmt.Errorf("channel %q: %w", name, domain.ErrUnknownChannel)
	}
	return e.Adapter, nil
}

// Entries returns every channel sorted by name.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type txRunner interface {
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

// Sync makes the channels and amount_range_routes tables mirror the registry.
// The file is the source of truth; routes are replaced wholesale.
func (r *Registry) Sync(ctx context.Context, store txRunner) error {
	entries := r.Entries()
	err := store.RunInTx(ctx, func(q repository.Querier) error {
		for _, e := range entries {
			if err := q.UpsertChannel(ctx, e.Channel); err != nil {
				return fmt.Errorf("upsert channel %s: %w", e.Name, err)
			}
		}
		if err := q.DeleteRoutes(ctx); err != nil {
			return fmt.Errorf("clear routes: %w", err)
		}
		for _, route := range r.routes {
			if err := q.InsertRoute(ctx, route); err != nil {
				return fmt.Errorf("insert route for %s: %w", route.Channel, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	zap.L().Info("channel registry synced", zap.Int("channels", len(entries)), zap.Int("routes", len(r.routes)))
	return nil
}
