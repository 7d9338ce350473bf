// Package goldsky queries the Goldsky-hosted Polymarket orderbook subgraph for
// on-chain order fill events.
package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polyledger/internal/domain"
	"github.com/alanyoungcy/polyledger/internal/retry"
)

// DefaultURL is the public orderbook subgraph endpoint.
const DefaultURL = "https://api.goldsky.com/api/public/project_cl6mb8i9h0003e201j6li0diw/subgraphs/orderbook-subgraph/0.0.1/gn"

// Client is a GraphQL client for the Goldsky subgraph indexer.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy sets the retry policy for transport errors.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithRateLimit caps the request rate. Zero disables pacing.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new Goldsky GraphQL client. An empty graphqlURL selects
// DefaultURL.
func NewClient(graphqlURL, apiKey string, opts ...ClientOption) *Client {
	if strings.TrimSpace(graphqlURL) == "" {
		graphqlURL = DefaultURL
	}
	c := &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     retry.DefaultPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const orderFillsQuery = `
	query OrderFills($after: BigInt!, $first: Int!) {
		orderFilledEvents(
			first: $first
			orderBy: timestamp
			orderDirection: asc
			where: { timestamp_gt: $after }
		) {
			id
			transactionHash
			timestamp
			maker
			makerAssetId
			makerAmountFilled
			taker
			takerAssetId
			takerAmountFilled
		}
	}
`

// orderFilledEvent mirrors the subgraph entity. BigInt fields arrive as JSON
// strings.
type orderFilledEvent struct {
	ID                string `json:"id"`
	TransactionHash   string `json:"transactionHash"`
	Timestamp         string `json:"timestamp"`
	Maker             string `json:"maker"`
	MakerAssetID      string `json:"makerAssetId"`
	MakerAmountFilled string `json:"makerAmountFilled"`
	Taker             string `json:"taker"`
	TakerAssetID      string `json:"takerAssetId"`
	TakerAmountFilled string `json:"takerAmountFilled"`
}

// FetchOrderFills returns up to first fills with a timestamp strictly after
// the given unix second, ordered by timestamp.
func (c *Client) FetchOrderFills(ctx context.Context, after int64, first int) ([]domain.RawFill, error) {
	variables := map[string]any{
		"after": strconv.FormatInt(after, 10),
		"first": first,
	}

	var respData json.RawMessage
	err := c.policy.Do(ctx, c.logger, "goldsky: fetch order fills", func(ctx context.Context) error {
		data, err := c.doQuery(ctx, orderFillsQuery, variables)
		if err != nil {
			return err
		}
		respData = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch order fills after %d: %w", after, err)
	}

	var result struct {
		OrderFilledEvents []orderFilledEvent `json:"orderFilledEvents"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode order fills: %w", err)
	}

	fills := make([]domain.RawFill, 0, len(result.OrderFilledEvents))
	for _, e := range result.OrderFilledEvents {
		ts, err := strconv.ParseInt(e.Timestamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("goldsky: event %s: bad timestamp %q: %w", e.ID, e.Timestamp, err)
		}
		fills = append(fills, domain.RawFill{
			ID:                e.ID,
			Timestamp:         ts,
			Maker:             e.Maker,
			MakerAssetID:      e.MakerAssetID,
			MakerAmountFilled: e.MakerAmountFilled,
			Taker:             e.Taker,
			TakerAssetID:      e.TakerAssetID,
			TakerAmountFilled: e.TakerAmountFilled,
			TransactionHash:   e.TransactionHash,
		})
	}

	return fills, nil
}

// FetchLatestBlock returns the latest block number indexed by the subgraph.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	const query = `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	var respData json.RawMessage
	err := c.policy.Do(ctx, c.logger, "goldsky: fetch latest block", func(ctx context.Context) error {
		data, err := c.doQuery(ctx, query, nil)
		if err != nil {
			return err
		}
		respData = data
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("goldsky: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("goldsky: decode latest block: %w", err)
	}

	return result.Meta.Block.Number, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a single GraphQL request and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal graphql request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
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

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	// Indexer hiccups surface as GraphQL errors with a 200; retry them.
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors. 5xx stays
// retryable; other 4xx are permanent.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	default:
		return retry.Permanent(fmt.Errorf("HTTP %d: %s", statusCode, bodyStr))
	}
}
