package subscan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emperorhan/wallet-history/internal/circuitbreaker"
	"github.com/emperorhan/wallet-history/internal/domain/event"
	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/metrics"
	"github.com/emperorhan/wallet-history/internal/pipeline/retry"
	"github.com/emperorhan/wallet-history/internal/source"
	"github.com/emperorhan/wallet-history/internal/source/ratelimit"
	"github.com/emperorhan/wallet-history/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
)

const (
	transfersPath  = "/api/v2/scan/transfers"
	extrinsicsPath = "/api/v2/scan/extrinsics"

	defaultTimeout          = 30 * time.Second
	defaultRetryMaxAttempts = 3
	defaultBackoffInitial   = 250 * time.Millisecond
	defaultBackoffMax       = 3 * time.Second
	defaultGovernanceModule = "convictionvoting"
	maxErrorBodyBytes       = 512
)

// ErrUnknownChain is returned for a chain missing from the registry.
var ErrUnknownChain = errors.New("unknown chain")

// Client implements source.TransferSource and source.GovernanceSource
// against the Subscan v2 scan API.
type Client struct {
	httpClient       *http.Client
	apiKey           string
	chains           map[model.Chain]model.ChainInfo
	governanceModule string
	logger           *slog.Logger

	retryMaxAttempts int
	backoffInitial   time.Duration
	backoffMax       time.Duration
	sleepFn          func(ctx context.Context, d time.Duration) error

	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[model.Chain]*ratelimit.Limiter
	breakers map[model.Chain]*circuitbreaker.Breaker
}

var (
	_ source.TransferSource   = (*Client)(nil)
	_ source.GovernanceSource = (*Client)(nil)
)

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.rps = rps
		c.burst = burst
	}
}

func WithRetry(maxAttempts int, backoffInitial, backoffMax time.Duration) Option {
	return func(c *Client) {
		c.retryMaxAttempts = maxAttempts
		c.backoffInitial = backoffInitial
		c.backoffMax = backoffMax
	}
}

func WithGovernanceModule(module string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(module); m != "" {
			c.governanceModule = m
		}
	}
}

func NewClient(chains []model.ChainInfo, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient:       &http.Client{Timeout: defaultTimeout},
		chains:           make(map[model.Chain]model.ChainInfo, len(chains)),
		governanceModule: defaultGovernanceModule,
		logger:           logger.With("component", "subscan"),
		retryMaxAttempts: defaultRetryMaxAttempts,
		backoffInitial:   defaultBackoffInitial,
		backoffMax:       defaultBackoffMax,
		limiters:         make(map[model.Chain]*ratelimit.Limiter),
		breakers:         make(map[model.Chain]*circuitbreaker.Breaker),
	}
	for _, info := range chains {
		c.chains[info.Chain] = info
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) FetchTransfers(ctx context.Context, req event.PageRequest) (event.PageResult[source.RawTransfer], error) {
	body := transfersRequest{
		Address: req.Account,
		Row:     req.PageSize,
		Page:    req.PageNumber,
	}

	var data transfersData
	if err := c.post(ctx, req, transfersPath, body, &data); err != nil {
		return event.PageResult[source.RawTransfer]{}, fmt.Errorf("fetch transfers page %d: %w", req.PageNumber, err)
	}
	return event.PageResult[source.RawTransfer]{
		For:   req.For,
		Count: data.Count,
		Items: data.Transfers,
	}, nil
}

func (c *Client) FetchGovernance(ctx context.Context, req event.PageRequest) (event.PageResult[source.RawExtrinsic], error) {
	body := extrinsicsRequest{
		Address: req.Account,
		Row:     req.PageSize,
		Page:    req.PageNumber,
		Module:  c.governanceModuleFor(req.Chain),
		Order:   "desc",
	}

	var data extrinsicsData
	if err := c.post(ctx, req, extrinsicsPath, body, &data); err != nil {
		return event.PageResult[source.RawExtrinsic]{}, fmt.Errorf("fetch governance page %d: %w", req.PageNumber, err)
	}
	return event.PageResult[source.RawExtrinsic]{
		For:   req.For,
		Count: data.Count,
		Items: data.Extrinsics,
	}, nil
}

// governanceModuleFor prefers the chain's registry entry over the client
// default.
func (c *Client) governanceModuleFor(chain model.Chain) string {
	if info, ok := c.chains[chain]; ok && info.GovernanceModule != "" {
		return info.GovernanceModule
	}
	return c.governanceModule
}

func (c *Client) post(ctx context.Context, req event.PageRequest, path string, body any, out any) error {
	info, ok := c.chains[req.Chain]
	if !ok || strings.TrimSpace(info.SubscanURL) == "" {
		return fmt.Errorf("%w: %s", ErrUnknownChain, req.Chain)
	}

	ctx, span := tracing.Tracer("subscan").Start(ctx, "subscan.post",
		otelTrace.WithAttributes(tracing.SubjectAttributes(req.Account, req.Chain.String())...),
		otelTrace.WithAttributes(
			attribute.String("source", req.Source.String()),
			attribute.String("path", path),
			attribute.Int("page", req.PageNumber),
		),
	)
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := strings.TrimRight(info.SubscanURL, "/") + path

	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	lastDecision := retry.Decision{Class: retry.ClassTerminal, Reason: "unset"}
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.breaker(req.Chain).Execute(func() error {
			if err := c.limiter(req.Chain).Wait(ctx); err != nil {
				return err
			}
			callErr := c.do(ctx, url, payload, out)
			ratelimit.RecordCall(req.Chain.String(), req.Source.String(), callErr)
			return callErr
		})
		if err == nil {
			return nil
		}
		lastErr = err
		lastDecision = retry.Classify(err)

		if ctx.Err() != nil {
			tracing.Fail(span, ctx.Err())
			return ctx.Err()
		}
		if !lastDecision.IsTransient() {
			tracing.Fail(span, err)
			return fmt.Errorf("terminal_failure path=%s attempt=%d reason=%s: %w", path, attempt, lastDecision.Reason, err)
		}
		if attempt == attempts {
			break
		}

		c.logger.Warn("subscan call failed; retrying",
			"chain", req.Chain,
			"path", path,
			"classification_reason", lastDecision.Reason,
			"attempt", attempt,
			"error", err,
		)
		if sleepErr := c.sleep(ctx, retry.Backoff(attempt, c.backoffInitial, c.backoffMax)); sleepErr != nil {
			return sleepErr
		}
	}

	tracing.Fail(span, lastErr)
	return fmt.Errorf("transient_recovery_exhausted path=%s attempts=%d reason=%s: %w", path, attempts, lastDecision.Reason, lastErr)
}

func (c *Client) do(ctx context.Context, url string, payload []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(respBody) > maxErrorBodyBytes {
			respBody = respBody[:maxErrorBodyBytes]
		}
		return &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return retry.Terminal(fmt.Errorf("unmarshal envelope: %w", err))
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return retry.Terminal(fmt.Errorf("unmarshal data: %w", err))
	}
	return nil
}

func (c *Client) limiter(chain model.Chain) *ratelimit.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[chain]
	if !ok {
		l = ratelimit.NewLimiter(c.rps, c.burst, chain.String())
		c.limiters[chain] = l
	}
	return l
}

func (c *Client) breaker(chain model.Chain) *circuitbreaker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[chain]
	if !ok {
		b = circuitbreaker.New(circuitbreaker.Config{
			Name:            chain.String(),
			CountsAsFailure: func(err error) bool { return retry.Classify(err).IsTransient() },
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				metrics.RemoteCircuitState.WithLabelValues(name).Set(float64(to))
				c.logger.Warn("subscan circuit state changed", "chain", name, "from", from.String(), "to", to.String())
			},
		})
		c.breakers[chain] = b
	}
	return b
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.sleepFn != nil {
		return c.sleepFn(ctx, d)
	}
	return retry.Sleep(ctx, d)
}
