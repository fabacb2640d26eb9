package mvola

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmehdipour/mvola-gateway/internal/metrics"
	"go.uber.org/zap"
)

const tokenScope = "EXT_INT_MVOLA_SCOPE"

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// Authenticate exchanges the consumer key/secret for a bearer token
// (client-credentials grant). With a token cache configured, a cached token
// is served until it is about to expire.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if c.cfg.ConsumerKey == "" || c.cfg.ConsumerSecret == "" {
		return "", &Error{
			Kind:    KindConfiguration,
			Op:      opAuthenticate,
			Message: "MVOLA_CONSUMER_KEY or MVOLA_CONSUMER_SECRET is not defined in environment variables",
		}
	}

	if tok, ok := c.cachedToken(ctx); ok {
		return tok, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", tokenScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", authError(0, nil, err)
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+creds)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cache-Control", "no-cache")

	status, body, err := c.roundTrip(ctx, opAuthenticate, req, "")
	if err != nil {
		c.logUpstreamFailure(opAuthenticate, "", status, body, err)
		return "", authError(status, body, err)
	}
	if status/100 != 2 {
		err := fmt.Errorf("upstream status %d", status)
		c.logUpstreamFailure(opAuthenticate, "", status, body, err)
		return "", authError(status, body, err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", authError(status, body, fmt.Errorf("decode token response: %w", err))
	}
	if tr.AccessToken == "" {
		return "", authError(status, body, errors.New("empty access_token in token response"))
	}

	c.storeToken(ctx, tr)

	return tr.AccessToken, nil
}

func authError(status int, body []byte, err error) *Error {
	return &Error{
		Kind:       KindAuthentication,
		Op:         opAuthenticate,
		Message:    "failed to authenticate with MVola API",
		StatusCode: status,
		Body:       body,
		Err:        err,
	}
}

// cachedToken never fails: cache errors are logged and treated as a miss.
func (c *Client) cachedToken(ctx context.Context) (string, bool) {
	if c.tokens == nil {
		return "", false
	}
	tok, ok, err := c.tokens.Get(ctx)
	switch {
	case err != nil:
		metrics.TokenCacheTotal.WithLabelValues("error").Inc()
		c.log.Warn("token cache read failed", zap.Error(err))
		return "", false
	case !ok:
		metrics.TokenCacheTotal.WithLabelValues("miss").Inc()
		return "", false
	}
	metrics.TokenCacheTotal.WithLabelValues("hit").Inc()
	return tok, true
}

func (c *Client) storeToken(ctx context.Context, tr tokenResponse) {
	if c.tokens == nil {
		return
	}
	secs, err := tr.ExpiresIn.Int64()
	if err != nil || secs <= 0 {
		return
	}
	ttl := time.Duration(secs)*time.Second - c.skew
	if err := c.tokens.Set(ctx, tr.AccessToken, ttl); err != nil {
		c.log.Warn("token cache write failed", zap.Error(err))
	}
}
