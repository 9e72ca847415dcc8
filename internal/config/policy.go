package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ModelPricing is the price of one million tokens, expressed in the
// provider currency, split between cached input, fresh input and output.
type ModelPricing struct {
	InputCacheHit  float64 `mapstructure:"inputCacheHit"`
	InputCacheMiss float64 `mapstructure:"inputCacheMiss"`
	Output         float64 `mapstructure:"output"`
}

// RetrievalPolicy carries the default quota configuration for balanced
// multi-document retrieval.
type RetrievalPolicy struct {
	TotalBudget         int     `mapstructure:"totalBudget"`
	MinPerDoc           int     `mapstructure:"minPerDoc"`
	MaxPerDoc           int     `mapstructure:"maxPerDoc"`
	EnforceDistribution bool    `mapstructure:"enforceDistribution"`
	OverfetchFactor     float64 `mapstructure:"overfetchFactor"`
}

// GovernancePolicy is the tunable part of the AI resource-governance
// layer: how budgets are derived from subscription prices and how the
// retrieval context window is distributed.
type GovernancePolicy struct {
	AllocationRatio       float64 `mapstructure:"allocationRatio"`
	TrialBudget           float64 `mapstructure:"trialBudget"`
	TrialWindowDays       int     `mapstructure:"trialWindowDays"`
	BalanceEpsilon        float64 `mapstructure:"balanceEpsilon"`
	AvgCostPerInteraction float64 `mapstructure:"avgCostPerInteraction"`
	ProviderCurrency      string  `mapstructure:"providerCurrency"`
	AccountCurrency       string  `mapstructure:"accountCurrency"`
	AccountToProviderRate float64 `mapstructure:"accountToProviderRate"`
	DefaultModel          string  `mapstructure:"defaultModel"`

	Pricing   map[string]ModelPricing `mapstructure:"pricing"`
	Retrieval RetrievalPolicy         `mapstructure:"retrieval"`
}

func DefaultGovernancePolicy() GovernancePolicy {
	return GovernancePolicy{
		AllocationRatio:       0.25,
		TrialBudget:           0.05,
		TrialWindowDays:       14,
		BalanceEpsilon:        0.0001,
		AvgCostPerInteraction: 0.0040,
		ProviderCurrency:      "USD",
		AccountCurrency:       "EUR",
		AccountToProviderRate: 1.06,
		DefaultModel:          "deepseek-chat",
		Pricing: map[string]ModelPricing{
			"deepseek-chat": {
				InputCacheHit:  0.07,
				InputCacheMiss: 0.27,
				Output:         1.10,
			},
		},
		Retrieval: RetrievalPolicy{
			TotalBudget:         6,
			MinPerDoc:           1,
			MaxPerDoc:           3,
			EnforceDistribution: true,
			OverfetchFactor:     3,
		},
	}
}

// PolicyHolder exposes the governance policy with hot reload, so budget
// ratios and retrieval quotas can change without a restart.
type PolicyHolder struct {
	current atomic.Value // holds GovernancePolicy
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("governance")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/quaderno")
	v.AddConfigPath(".")

	v.SetEnvPrefix("QUADERNO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg := DefaultGovernancePolicy()
	if fileFound {
		if err := v.UnmarshalKey("governance", &cfg); err != nil {
			return nil, err
		}
	}
	if err := validateGovernancePolicy(cfg); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated := DefaultGovernancePolicy()
			if err := v.UnmarshalKey("governance", &updated); err != nil {
				log.Printf("[governance-config] reload failed: %v", err)
				return
			}
			if err := validateGovernancePolicy(updated); err != nil {
				log.Printf("[governance-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[governance-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *PolicyHolder) Get() GovernancePolicy {
	return h.current.Load().(GovernancePolicy)
}

// NewStaticPolicyHolder wraps a policy without file watching, for tests.
func NewStaticPolicyHolder(cfg GovernancePolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateGovernancePolicy(cfg GovernancePolicy) error {
	if cfg.AllocationRatio <= 0 || cfg.AllocationRatio > 1 {
		return errors.New("governance.allocationRatio must be in (0, 1]")
	}
	if cfg.TrialBudget < 0 {
		return errors.New("governance.trialBudget cannot be negative")
	}
	if cfg.TrialWindowDays <= 0 {
		return errors.New("governance.trialWindowDays must be positive")
	}
	if cfg.AccountToProviderRate <= 0 {
		return errors.New("governance.accountToProviderRate must be positive")
	}
	if len(cfg.Pricing) == 0 {
		return errors.New("governance.pricing cannot be empty")
	}
	if _, ok := cfg.Pricing[cfg.DefaultModel]; !ok {
		return errors.New("governance.defaultModel has no pricing entry")
	}
	r := cfg.Retrieval
	if r.MinPerDoc < 0 || r.MaxPerDoc < r.MinPerDoc || r.TotalBudget < 0 {
		return errors.New("governance.retrieval quota bounds are inconsistent")
	}
	if r.OverfetchFactor < 1 {
		return errors.New("governance.retrieval.overfetchFactor must be >= 1")
	}
	return nil
}
