package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"gopkg.in/yaml.v3"
)

// ChannelsFile is the on-disk channel registry.
type ChannelsFile struct {
	Channels []ChannelConfig `yaml:"channels"`
	Routes   []RouteConfig   `yaml:"routes"`
}

type ChannelConfig struct {
	Name             string          `yaml:"name"`
	DisplayName      string          `yaml:"display_name"`
	Active           *bool           `yaml:"active"`
	HostsPaymentPage bool            `yaml:"hosts_payment_page"`
	StrictSignature  bool            `yaml:"strict_signature"`
	Dynamic          bool            `yaml:"dynamic"`
	MinAmount        string          `yaml:"min_amount"`
	MaxAmount        string          `yaml:"max_amount"`
	RatePercent      string          `yaml:"rate_percent"`
	RateFixed        string          `yaml:"rate_fixed"`
	Provider         provider.Config `yaml:"provider"`
}

// RouteConfig is one amount range of the dynamic router. Bounds are inclusive.
type RouteConfig struct {
	Channel   string `yaml:"channel"`
	MinAmount string `yaml:"min_amount"`
	MaxAmount string `yaml:"max_amount"`
	Priority  int    `yaml:"priority"`
	Active    *bool  `yaml:"active"`
}

// LoadChannels reads and validates the channel registry at path. Secrets may
// be written as ${ENV_VAR} references.
func LoadChannels(path string) (*ChannelsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channels file: %w", err)
	}
	return ParseChannels(raw)
}

func ParseChannels(raw []byte) (*ChannelsFile, error) {
	var file ChannelsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &file); err != nil {
		return nil, fmt.Errorf("parse channels file: %w", err)
	}
	if err := file.validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

func (f *ChannelsFile) validate() error {
	if len(f.Channels) == 0 {
		return errors.New("channels file defines no channels")
	}
	seen := make(map[string]ChannelConfig, len(f.Channels))
	for _, c := range f.Channels {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return errors.New("channel without name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("channel %s defined twice", name)
		}
		if !c.Dynamic && c.Provider.Type == "" {
			return fmt.Errorf("channel %s: provider.type is required", name)
		}
		if _, err := c.Model(); err != nil {
			return err
		}
		seen[name] = c
	}
	for i, r := range f.Routes {
		target, ok := seen[r.Channel]
		if !ok {
			return fmt.Errorf("route %d targets unknown channel %q", i, r.Channel)
		}
		if target.Dynamic {
			return fmt.Errorf("route %d targets dynamic channel %q", i, r.Channel)
		}
		route, err := r.Model()
		if err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
		if route.MaxAmountMicros < route.MinAmountMicros {
			return fmt.Errorf("route %d: max_amount below min_amount", i)
		}
	}
	return nil
}

// Model converts the channel definition into its persisted form.
func (c ChannelConfig) Model() (models.Channel, error) {
	minAmount, err := optionalAmount(c.MinAmount)
	if err != nil {
		return models.Channel{}, fmt.Errorf("channel %s min_amount: %w", c.Name, err)
	}
	maxAmount, err := optionalAmount(c.MaxAmount)
	if err != nil {
		return models.Channel{}, fmt.Errorf("channel %s max_amount: %w", c.Name, err)
	}
	fixed, err := optionalAmount(c.RateFixed)
	if err != nil {
		return models.Channel{}, fmt.Errorf("channel %s rate_fixed: %w", c.Name, err)
	}
	rate, err := domain.ParseRate(c.RatePercent, fixed, "")
	if err != nil {
		return models.Channel{}, fmt.Errorf("channel %s rate_percent: %w", c.Name, err)
	}
	providerType := c.Provider.Type
	if c.Dynamic {
		providerType = "dynamic"
	}
	return models.Channel{
		Name:             c.Name,
		Provider:         providerType,
		DefaultRate:      rate,
		MinAmountMicros:  minAmount,
		MaxAmountMicros:  maxAmount,
		Active:           c.Active == nil || *c.Active,
		HostsPaymentPage: c.HostsPaymentPage,
	}, nil
}

func (r RouteConfig) Model() (models.AmountRangeRoute, error) {
	minAmount, err := optionalAmount(r.MinAmount)
	if err != nil {
		return models.AmountRangeRoute{}, fmt.Errorf("min_amount: %w", err)
	}
	maxAmount, err := domain.ParseAmount(r.MaxAmount)
	if err != nil {
		return models.AmountRangeRoute{}, fmt.Errorf("max_amount: %w", err)
	}
	return models.AmountRangeRoute{
		MinAmountMicros: minAmount,
		MaxAmountMicros: maxAmount,
		Channel:         r.Channel,
		Priority:        r.Priority,
		Active:          r.Active == nil || *r.Active,
	}, nil
}

func optionalAmount(v string) (int64, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	return domain.ParseAmount(v)
}
