package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/internal/request"
)

// RateSource produces a mid-market rate for one currency pair. The
// converter tries sources in configured order and takes the first answer.
type RateSource interface {
	Name() string
	FetchRate(ctx context.Context, source, target string) (decimal.Decimal, error)
}

// httpSource pulls rates from a JSON endpoint. The endpoint is expected to
// answer GET <url>?base=<source>&symbols=<target> with a body shaped like
// {"base": "USD", "rates": {"EUR": 0.92}}, which is the shape the common
// public rate APIs share.
type httpSource struct {
	name string
	url  string
}

func (s *httpSource) Name() string {
	return s.name
}

func (s *httpSource) FetchRate(ctx context.Context, source, target string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s?base=%s&symbols=%s", s.url, source, target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "building rate request for %s", s.name)
	}

	var body struct {
		Base  string                 `json:"base"`
		Rates map[string]json.Number `json:"rates"`
	}
	resp, err := request.Call(req, &body)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "fetching %s/%s from %s", source, target, s.name)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, errors.Errorf("%s returned status %d for %s/%s", s.name, resp.StatusCode, source, target)
	}

	raw, ok := body.Rates[target]
	if !ok {
		return decimal.Zero, errors.Errorf("%s has no rate for %s/%s", s.name, source, target)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parsing %s rate for %s/%s", s.name, source, target)
	}
	if rate.Sign() <= 0 {
		return decimal.Zero, errors.Errorf("%s returned non-positive rate %s for %s/%s", s.name, rate, source, target)
	}
	return rate, nil
}

// staticSource serves rates from the config table. It never goes over the
// network, which makes it the fallback of last resort and the whole chain
// in dev environments.
type staticSource struct {
	rates map[string]decimal.Decimal
}

func pairKey(source, target string) string {
	return strings.ToUpper(source) + ":" + strings.ToUpper(target)
}

func newStaticSource(table map[string]string) (*staticSource, error) {
	rates := make(map[string]decimal.Decimal, len(table))
	for pair, raw := range table {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "static rate for %s", pair)
		}
		if rate.Sign() <= 0 {
			return nil, errors.Errorf("static rate for %s must be positive, got %s", pair, rate)
		}
		rates[strings.ToUpper(pair)] = rate
	}
	return &staticSource{rates: rates}, nil
}

func (s *staticSource) Name() string {
	return "static"
}

func (s *staticSource) FetchRate(_ context.Context, source, target string) (decimal.Decimal, error) {
	if rate, ok := s.rates[pairKey(source, target)]; ok {
		return rate, nil
	}
	// derive the inverse when only the opposite direction is configured
	if inverse, ok := s.rates[pairKey(target, source)]; ok {
		return decimal.NewFromInt(1).DivRound(inverse, 12), nil
	}
	return decimal.Zero, errors.Errorf("no static rate configured for %s/%s", source, target)
}

// NewSources builds the rate source chain from configuration: HTTP sources
// in listed order, then the static table when one is configured.
func NewSources(cfg config.FxConfig) ([]RateSource, error) {
	var sources []RateSource
	for _, sc := range cfg.Sources {
		sources = append(sources, &httpSource{name: sc.Name, url: sc.Url})
	}
	if len(cfg.StaticRates) > 0 {
		static, err := newStaticSource(cfg.StaticRates)
		if err != nil {
			return nil, err
		}
		sources = append(sources, static)
	}
	return sources, nil
}
