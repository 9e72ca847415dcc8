package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/quadernolabs/quaderno/internal/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HTTPSource polls an exchange-rate endpoint and serves the last rate it
// fetched. Until the first successful refresh, and after any failed one,
// it keeps serving the pinned policy rate so conversions never block on
// the network.
type HTTPSource struct {
	url      string
	base     string
	quote    string
	client   *http.Client
	fallback RateSource
	log      *zap.Logger

	last atomic.Pointer[decimal.Decimal]
}

func NewHTTPSource(cfg config.Config, policy *config.PolicyHolder, log *zap.Logger) *HTTPSource {
	p := policy.Get()
	return &HTTPSource{
		url:      cfg.RatesURL,
		base:     p.AccountCurrency,
		quote:    p.ProviderCurrency,
		client:   &http.Client{Timeout: 10 * time.Second},
		fallback: NewPolicySource(policy),
		log:      log.Named("currency.rates"),
	}
}

func (s *HTTPSource) Rate(ctx context.Context) (decimal.Decimal, error) {
	if rate := s.last.Load(); rate != nil {
		return *rate, nil
	}
	return s.fallback.Rate(ctx)
}

type ratesResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// Refresh fetches the current rate. It is driven by the scheduler; a
// failure leaves the previously served rate in place.
func (s *HTTPSource) Refresh(ctx context.Context) error {
	url := fmt.Sprintf("%s?base=%s&symbols=%s", s.url, s.base, s.quote)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("rate refresh failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.log.Warn("rate refresh failed", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("rates endpoint returned %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}

	raw, ok := body.Rates[s.quote]
	if !ok || raw <= 0 {
		return fmt.Errorf("rates endpoint missing %s", s.quote)
	}

	rate := decimal.NewFromFloat(raw)
	s.last.Store(&rate)
	s.log.Info("exchange rate refreshed",
		zap.String("pair", s.base+"/"+s.quote),
		zap.String("rate", rate.String()),
	)
	return nil
}
