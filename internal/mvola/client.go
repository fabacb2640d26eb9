package mvola

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/mvola-gateway/internal/cache"
	"github.com/jmehdipour/mvola-gateway/internal/config"
	"github.com/jmehdipour/mvola-gateway/internal/metrics"
	"github.com/jmehdipour/mvola-gateway/internal/model"
	"github.com/jmehdipour/mvola-gateway/internal/util"
	"go.uber.org/zap"
)

const (
	opAuthenticate = "authenticate"
	opInitiate     = "initiate"
	opStatus       = "status"
	opDetails      = "details"

	maxBodyBytes = 1 << 20
)

var errBodyTooLarge = fmt.Errorf("upstream body too large (limit %d bytes)", maxBodyBytes)

// HTTPDoer is satisfied by *http.Client and lets tests swap the transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AuditPublisher receives one event per upstream call.
type AuditPublisher interface {
	Publish(ctx context.Context, ev model.AuditEvent)
}

// Client talks to the MVola API. It holds no per-request state and is safe for concurrent use.
type Client struct {
	cfg    config.MVolaConfig
	meta   model.Metadata
	http   HTTPDoer
	log    *zap.Logger
	tokens cache.TokenCache
	skew   time.Duration
	audit  AuditPublisher

	now           func() time.Time
	correlationID func() string
}

type Option func(*Client)

func WithHTTPClient(d HTTPDoer) Option { return func(c *Client) { c.http = d } }

// WithTokenCache reuses tokens until expires_in minus skew has elapsed.
func WithTokenCache(tc cache.TokenCache, skew time.Duration) Option {
	return func(c *Client) {
		c.tokens = tc
		c.skew = skew
	}
}

func WithAuditPublisher(p AuditPublisher) Option { return func(c *Client) { c.audit = p } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient fails with a configuration error when no base URL is configured.
func NewClient(cfg config.MVolaConfig, log *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, &Error{
			Kind:    KindConfiguration,
			Op:      "init",
			Message: "MVOLA_BASE_URL is not defined in environment variables",
		}
	}

	if cfg.UserLanguage == "" {
		cfg.UserLanguage = "MG"
	}
	if cfg.PartnerName == "" {
		cfg.PartnerName = "MyCompany"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	meta := model.Metadata{
		PartnerName: cfg.Metadata.PartnerName,
		FC:          cfg.Metadata.FC,
		AmountFC:    cfg.Metadata.AmountFC,
	}
	if meta.PartnerName == "" {
		meta.PartnerName = "SCompany"
	}
	if meta.FC == "" {
		meta.FC = "USD"
	}
	if meta.AmountFC == "" {
		meta.AmountFC = "1"
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		cfg:           cfg,
		meta:          meta,
		http:          &http.Client{Timeout: cfg.Timeout},
		log:           log,
		now:           time.Now,
		correlationID: uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// roundTrip executes req and records metrics and the audit event. err is
// non-nil only for transport failures; status handling is left to callers.
func (c *Client) roundTrip(ctx context.Context, op string, req *http.Request, correlationID string) (int, []byte, error) {
	start := c.now()
	status, body, err := c.do(req)
	elapsed := c.now().Sub(start)

	outcome := model.OutcomeSuccess
	if err != nil || status/100 != 2 {
		outcome = model.OutcomeFailure
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(op, outcome.String()).Inc()
	metrics.UpstreamRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	if c.audit != nil {
		c.audit.Publish(context.WithoutCancel(ctx), model.AuditEvent{
			ID:            util.NewID(),
			Operation:     op,
			CorrelationID: correlationID,
			StatusCode:    status,
			Outcome:       outcome,
			DurationMs:    elapsed.Milliseconds(),
			OccurredAt:    start.UTC(),
		})
	}

	return status, body, err
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes+1))
	if err != nil {
		return res.StatusCode, nil, err
	}
	if len(body) > maxBodyBytes {
		return res.StatusCode, body[:maxBodyBytes], errBodyTooLarge
	}
	return res.StatusCode, body, nil
}

func (c *Client) logUpstreamFailure(op, correlationID string, status int, body []byte, err error) {
	c.log.Error("mvola upstream call failed",
		zap.String("op", op),
		zap.String("correlation_id", correlationID),
		zap.Int("status", status),
		zap.ByteString("upstream_body", body),
		zap.Error(err),
	)
}
