// Package polymarket holds the Gamma REST client used to build the market
// registry.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polyledger/internal/domain"
	"github.com/alanyoungcy/polyledger/internal/retry"
)

// DefaultGammaURL is the public Gamma API root.
const DefaultGammaURL = "https://gamma-api.polymarket.com"

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *slog.Logger
}

// GammaOption configures a GammaClient.
type GammaOption func(*GammaClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) GammaOption {
	return func(g *GammaClient) { g.httpClient = hc }
}

// WithRetryPolicy sets the retry policy for transport errors.
func WithRetryPolicy(p retry.Policy) GammaOption {
	return func(g *GammaClient) { g.policy = p }
}

// WithRateLimit caps the request rate. Zero disables pacing.
func WithRateLimit(perSecond float64) GammaOption {
	return func(g *GammaClient) {
		if perSecond <= 0 {
			g.limiter = nil
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GammaOption {
	return func(g *GammaClient) { g.logger = logger }
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
// An empty value selects DefaultGammaURL.
func NewGammaClient(baseURL string, opts ...GammaOption) *GammaClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultGammaURL
	}
	g := &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		policy: retry.DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GetMarkets returns a page of markets ordered by creation time, oldest
// first. Entries that fail to decode are logged and skipped.
func (g *GammaClient) GetMarkets(ctx context.Context, limit, offset int) (domain.MarketPage, error) {
	params := url.Values{}
	params.Set("order", "createdAt")
	params.Set("ascending", "true")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := g.get(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.MarketPage{}, fmt.Errorf("polymarket/gamma: get markets at offset %d: %w", offset, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.MarketPage{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	page := domain.MarketPage{Markets: make([]domain.Market, 0, len(raw)), Fetched: len(raw)}
	for _, item := range raw {
		var m APIMarket
		if err := json.Unmarshal(item, &m); err != nil {
			g.logger.WarnContext(ctx, "gamma: skipping undecodable market",
				slog.Int("offset", offset),
				slog.String("error", err.Error()),
			)
			continue
		}
		page.Markets = append(page.Markets, m.ToDomainMarket())
	}

	return page, nil
}

// GetMarketByToken returns the market that lists tokenID among its CLOB
// token ids. It returns domain.ErrNotFound when Gamma knows no such market.
func (g *GammaClient) GetMarketByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	params := url.Values{}
	params.Set("clob_token_ids", tokenID)

	body, err := g.get(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market by token %s: %w", tokenID, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	if len(apiMarkets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: token=%s", domain.ErrNotFound, tokenID)
	}

	return apiMarkets[0].ToDomainMarket(), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// get runs doGet under the client's retry policy.
func (g *GammaClient) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := g.policy.Do(ctx, g.logger, "gamma: GET "+path, func(ctx context.Context) error {
		b, err := g.doGet(ctx, path)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors. 5xx and
// unclassified statuses stay retryable.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
