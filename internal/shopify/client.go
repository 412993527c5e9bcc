// Package shopify implements a minimal Admin GraphQL client for pulling
// tender transactions, with cost-aware throttling and cursor pagination.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// TenderTransaction is one settled payment event from the platform ledger.
type TenderTransaction struct {
	ID              string
	OrderID         string
	Amount          decimal.Decimal
	Currency        string
	PaymentMethod   string
	RemoteReference string
	ProcessedAt     time.Time
	Test            bool
}

// Config configures the Admin API connection.
type Config struct {
	// ShopDomain is the myshopify host, e.g. "example.myshopify.com".
	ShopDomain string
	// AccessToken is the Admin API access token.
	AccessToken string
	// APIVersion selects the Admin API version. Defaults to "2024-10".
	APIVersion string
	// PageSize is the number of edges requested per page. Defaults to 100.
	PageSize int
	// MaxAttempts bounds how many times a single page is attempted when the
	// API answers THROTTLED. Defaults to 3.
	MaxAttempts int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The default client
// wraps its transport with otelhttp instrumentation.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSleep replaces the throttle wait function. Tests use this to observe
// waits without real delays.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// Client talks to the Shopify Admin GraphQL API.
//
// The API enforces a leaky bucket cost budget per shop. Every response
// carries a cost envelope; the client waits out the deficit instead of
// hammering a drained bucket, and retries a THROTTLED page a bounded number
// of times before giving up.
type Client struct {
	http     *http.Client
	endpoint string
	token    string
	pageSize int
	attempts int
	sleep    func(context.Context, time.Duration) error

	pagesFetched metric.Int64Counter
	throttleWait metric.Float64Counter
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ShopDomain == "" {
		return nil, errors.New("shop domain is required")
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("access token is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-10"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	meter := otel.Meter("shopify")
	pages, err := meter.Int64Counter("shopify.pages_fetched",
		metric.WithDescription("GraphQL pages fetched successfully"))
	if err != nil {
		return nil, errors.Wrap(err, "create pages counter")
	}
	wait, err := meter.Float64Counter("shopify.throttle_wait_seconds",
		metric.WithDescription("Seconds spent waiting for cost budget to restore"))
	if err != nil {
		return nil, errors.Wrap(err, "create wait counter")
	}

	c := &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		endpoint:     fmt.Sprintf("https://%s/admin/api/%s/graphql.json", cfg.ShopDomain, cfg.APIVersion),
		token:        cfg.AccessToken,
		pageSize:     cfg.PageSize,
		attempts:     cfg.MaxAttempts,
		sleep:        sleepCtx,
		pagesFetched: pages,
		throttleWait: wait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

const tenderTransactionsQuery = `query tenderTransactions($pageSize: Int!, $cursor: String, $query: String) {
  tenderTransactions(first: $pageSize, after: $cursor, query: $query) {
    pageInfo {
      hasNextPage
      endCursor
    }
    edges {
      node {
        id
        test
        amount {
          amount
          currencyCode
        }
        paymentMethod
        processedAt
        remoteReference
        order {
          id
        }
      }
    }
  }
}`

// DateRange bounds a fetch by processing time. Since is inclusive; Until is
// exclusive, and a zero Until leaves the range open-ended.
type DateRange struct {
	Since time.Time
	Until time.Time
}

// filter renders the range as the API's search syntax.
func (r DateRange) filter() string {
	f := fmt.Sprintf("processed_at:>='%s'", r.Since.UTC().Format(time.RFC3339))
	if !r.Until.IsZero() {
		f += fmt.Sprintf(" AND processed_at:<'%s'", r.Until.UTC().Format(time.RFC3339))
	}
	return f
}

// FetchTenderTransactions walks every page of tender transactions processed
// within r, invoking fn once per non-empty page in order. A non-nil error
// from fn stops the walk.
func (c *Client) FetchTenderTransactions(
	ctx context.Context,
	r DateRange,
	fn func(context.Context, []TenderTransaction) error,
) error {
	lg := zctx.From(ctx)
	filter := r.filter()

	cursor := ""
	for page := 1; ; page++ {
		txs, info, cost, err := c.fetchPage(ctx, filter, cursor)
		if err != nil {
			return errors.Wrapf(err, "fetch page %d", page)
		}
		c.pagesFetched.Add(ctx, 1)

		if len(txs) > 0 {
			if err := fn(ctx, txs); err != nil {
				return errors.Wrapf(err, "process page %d", page)
			}
		}
		if !info.HasNextPage {
			lg.Info("Tender transaction fetch complete", zap.Int("pages", page))
			return nil
		}
		cursor = info.EndCursor

		// The next page costs roughly what this one did. If the bucket holds
		// less than that, wait for it to refill instead of eating a THROTTLED
		// round trip.
		if wait := cost.refillWait(cost.Actual); wait > 0 {
			lg.Debug("Waiting for cost budget before next page",
				zap.Duration("wait", wait),
				zap.Float64("available", cost.Available),
			)
			c.throttleWait.Add(ctx, wait.Seconds())
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
}

// fetchPage runs one query, retrying when the API answers THROTTLED.
func (c *Client) fetchPage(ctx context.Context, filter, cursor string) ([]TenderTransaction, pageInfo, costEnvelope, error) {
	lg := zctx.From(ctx)

	for attempt := 1; ; attempt++ {
		txs, info, cost, err := c.query(ctx, filter, cursor)

		var throttled *throttledError
		if !errors.As(err, &throttled) {
			return txs, info, cost, err
		}
		if attempt >= c.attempts {
			return nil, pageInfo{}, costEnvelope{}, errors.Wrapf(err, "throttled after %d attempts", attempt)
		}

		wait := throttled.cost.refillWait(throttled.cost.Requested)
		if wait <= 0 {
			wait = time.Second
		}
		lg.Info("Query throttled, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Float64("requested", throttled.cost.Requested),
			zap.Float64("available", throttled.cost.Available),
		)
		c.throttleWait.Add(ctx, wait.Seconds())
		if err := c.sleep(ctx, wait); err != nil {
			return nil, pageInfo{}, costEnvelope{}, err
		}
	}
}

// pageInfo mirrors the GraphQL pagination block.
type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// costEnvelope is the per-response query cost report.
type costEnvelope struct {
	Requested   float64
	Actual      float64
	Available   float64
	RestoreRate float64
}

// refillWait returns how long the bucket needs to restore `needed` cost
// points, rounded up to whole seconds. Zero when the budget already covers it.
func (c costEnvelope) refillWait(needed float64) time.Duration {
	if c.RestoreRate <= 0 || c.Available >= needed {
		return 0
	}
	secs := math.Ceil((needed - c.Available) / c.RestoreRate)
	return time.Duration(secs) * time.Second
}

// throttledError reports a THROTTLED GraphQL response together with the cost
// envelope needed to size the backoff.
type throttledError struct {
	cost costEnvelope
}

func (e *throttledError) Error() string {
	return fmt.Sprintf("query throttled: requested %.0f, available %.0f",
		e.cost.Requested, e.cost.Available)
}

func (c *Client) query(ctx context.Context, filter, cursor string) ([]TenderTransaction, pageInfo, costEnvelope, error) {
	body := c.encodeRequest(filter, cursor)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, pageInfo{}, costEnvelope{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pageInfo{}, costEnvelope{}, errors.Wrap(err, "execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, pageInfo{}, costEnvelope{}, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pageInfo{}, costEnvelope{}, errors.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}

	return decodeResponse(raw)
}

// encodeRequest builds the GraphQL request body. Cursor is omitted on the
// first page; the API treats a null cursor the same but omitting it keeps
// request logs clean.
func (c *Client) encodeRequest(filter, cursor string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("query", func(e *jx.Encoder) {
			e.Str(tenderTransactionsQuery)
		})
		e.Field("variables", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("pageSize", func(e *jx.Encoder) {
					e.Int(c.pageSize)
				})
				if cursor != "" {
					e.Field("cursor", func(e *jx.Encoder) {
						e.Str(cursor)
					})
				}
				e.Field("query", func(e *jx.Encoder) {
					e.Str(filter)
				})
			})
		})
	})
	return e.Bytes()
}

type gqlResponse struct {
	Data struct {
		TenderTransactions struct {
			PageInfo pageInfo `json:"pageInfo"`
			Edges    []struct {
				Node struct {
					ID     string `json:"id"`
					Test   bool   `json:"test"`
					Amount struct {
						Amount       string `json:"amount"`
						CurrencyCode string `json:"currencyCode"`
					} `json:"amount"`
					PaymentMethod   string `json:"paymentMethod"`
					ProcessedAt     string `json:"processedAt"`
					RemoteReference string `json:"remoteReference"`
					Order           *struct {
						ID string `json:"id"`
					} `json:"order"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"tenderTransactions"`
	} `json:"data"`
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	} `json:"errors"`
	Extensions struct {
		Cost struct {
			RequestedQueryCost float64 `json:"requestedQueryCost"`
			ActualQueryCost    float64 `json:"actualQueryCost"`
			ThrottleStatus     struct {
				CurrentlyAvailable float64 `json:"currentlyAvailable"`
				RestoreRate        float64 `json:"restoreRate"`
			} `json:"throttleStatus"`
		} `json:"cost"`
	} `json:"extensions"`
}

func decodeResponse(raw []byte) ([]TenderTransaction, pageInfo, costEnvelope, error) {
	var body gqlResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, pageInfo{}, costEnvelope{}, errors.Wrap(err, "decode response")
	}

	cost := costEnvelope{
		Requested:   body.Extensions.Cost.RequestedQueryCost,
		Actual:      body.Extensions.Cost.ActualQueryCost,
		Available:   body.Extensions.Cost.ThrottleStatus.CurrentlyAvailable,
		RestoreRate: body.Extensions.Cost.ThrottleStatus.RestoreRate,
	}

	for _, gqlErr := range body.Errors {
		if gqlErr.Extensions.Code == "THROTTLED" {
			return nil, pageInfo{}, costEnvelope{}, &throttledError{cost: cost}
		}
	}
	if len(body.Errors) > 0 {
		return nil, pageInfo{}, costEnvelope{}, errors.Errorf("graphql error: %s", body.Errors[0].Message)
	}

	conn := body.Data.TenderTransactions
	txs := make([]TenderTransaction, 0, len(conn.Edges))
	for _, edge := range conn.Edges {
		node := edge.Node

		amount, err := decimal.NewFromString(node.Amount.Amount)
		if err != nil {
			return nil, pageInfo{}, costEnvelope{}, errors.Wrapf(err, "parse amount for %s", node.ID)
		}
		processedAt, err := time.Parse(time.RFC3339, node.ProcessedAt)
		if err != nil {
			return nil, pageInfo{}, costEnvelope{}, errors.Wrapf(err, "parse processedAt for %s", node.ID)
		}

		tx := TenderTransaction{
			ID:              node.ID,
			Amount:          amount,
			Currency:        node.Amount.CurrencyCode,
			PaymentMethod:   node.PaymentMethod,
			RemoteReference: node.RemoteReference,
			ProcessedAt:     processedAt,
			Test:            node.Test,
		}
		if node.Order != nil {
			tx.OrderID = node.Order.ID
		}
		txs = append(txs, tx)
	}
	return txs, conn.PageInfo, cost, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
