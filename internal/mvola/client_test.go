package mvola

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/mvola-gateway/internal/config"
	"github.com/jmehdipour/mvola-gateway/internal/metrics"
	"github.com/jmehdipour/mvola-gateway/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// captured is one request seen by the fake upstream.
type captured struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type fakeUpstream struct {
	*httptest.Server
	mu     sync.Mutex
	calls  []captured
	status int
	body   string
}

func newFakeUpstream(t *testing.T, status int, body string) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{status: status, body: body}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, captured{Method: r.Method, Path: r.URL.EscapedPath(), Header: r.Header.Clone(), Body: b})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, f.body)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstream) Calls() []captured {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]captured(nil), f.calls...)
}

func testConfig(baseURL string) config.MVolaConfig {
	return config.MVolaConfig{
		BaseURL:        baseURL,
		ConsumerKey:    "consumer-key",
		ConsumerSecret: "consumer:secret",
		MerchantNumber: "0343500004",
		UserLanguage:   "MG",
		PartnerName:    "MyCompany",
		CallbackURL:    "https://shop.example/callback",
		Timeout:        5 * time.Second,
	}
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) (*Client, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	c, err := NewClient(testConfig(baseURL), zap.New(core), opts...)
	require.NoError(t, err)
	return c, logs
}

func scenarioRequest() model.TransactionRequest {
	return model.TransactionRequest{
		Amount:          "15000",
		Currency:        "Ar",
		DescriptionText: "abcpaiment",
		RequestingOrganisationTransactionReference: "TXN12345",
		DebitPartyValue:  "0343500003",
		CreditPartyValue: "0343500004",
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.MVolaConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAuthenticate_Success(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`)
	c, _ := newTestClient(t, up.URL)

	tok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)

	calls := up.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/token", calls[0].Path)
	assert.Equal(t, "grant_type=client_credentials&scope=EXT_INT_MVOLA_SCOPE", string(calls[0].Body))
	assert.Equal(t, "application/x-www-form-urlencoded", calls[0].Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", calls[0].Header.Get("Cache-Control"))

	auth := calls[0].Header.Get("Authorization")
	require.True(t, strings.HasPrefix(auth, "Basic "))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	require.NoError(t, err)
	assert.Equal(t, "consumer-key:consumer:secret", string(decoded))
}

func TestAuthenticate_MissingCredentials(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{}`)
	cfg := testConfig(up.URL)
	cfg.ConsumerSecret = ""
	c, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Authenticate(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Empty(t, up.Calls())
}

func TestAuthenticate_UpstreamRejects(t *testing.T) {
	up := newFakeUpstream(t, http.StatusUnauthorized, `{"error":"invalid_client"}`)
	c, logs := newTestClient(t, up.URL)

	_, err := c.Authenticate(context.Background())
	require.Error(t, err)

	var mErr *Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, KindAuthentication, mErr.Kind)
	assert.Equal(t, http.StatusUnauthorized, mErr.StatusCode)
	assert.JSONEq(t, `{"error":"invalid_client"}`, string(mErr.Body))
	assert.Equal(t, "failed to authenticate with MVola API: upstream status 401", mErr.PublicMessage())
	assert.Equal(t, 1, logs.FilterMessage("mvola upstream call failed").Len())
	assert.Len(t, up.Calls(), 1)
}

func TestAuthenticate_TransportError(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	c, _ := newTestClient(t, "http://mvola.invalid", WithHTTPClient(doer))

	_, err := c.Authenticate(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "connection refused")

	var mErr *Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, "failed to authenticate with MVola API", mErr.PublicMessage())
	assert.NotContains(t, mErr.PublicMessage(), "mvola.invalid")
}

func TestAuthenticate_EmptyAccessToken(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{"token_type":"Bearer"}`)
	c, _ := newTestClient(t, up.URL)

	_, err := c.Authenticate(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "empty access_token")

	var mErr *Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, "failed to authenticate with MVola API", mErr.PublicMessage())
}

type fakeTokenCache struct {
	token  string
	stored string
	ttl    time.Duration
	getErr error
}

func (f *fakeTokenCache) Get(context.Context) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	return f.token, f.token != "", nil
}

func (f *fakeTokenCache) Set(_ context.Context, token string, ttl time.Duration) error {
	f.stored, f.ttl = token, ttl
	return nil
}

func TestAuthenticate_TokenCacheHitSkipsUpstream(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{"access_token":"fresh"}`)
	tc := &fakeTokenCache{token: "cached"}
	c, _ := newTestClient(t, up.URL, WithTokenCache(tc, 30*time.Second))

	hitsBefore := testutil.ToFloat64(metrics.TokenCacheTotal.WithLabelValues("hit"))

	tok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", tok)
	assert.Empty(t, up.Calls())
	assert.Equal(t, hitsBefore+1, testutil.ToFloat64(metrics.TokenCacheTotal.WithLabelValues("hit")))
}

func TestAuthenticate_TokenCacheMissStoresWithSkew(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{"access_token":"fresh","expires_in":3600}`)
	tc := &fakeTokenCache{}
	c, _ := newTestClient(t, up.URL, WithTokenCache(tc, 30*time.Second))

	tok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, "fresh", tc.stored)
	assert.Equal(t, time.Hour-30*time.Second, tc.ttl)
}

func TestAuthenticate_TokenCacheErrorFallsBack(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{"access_token":"fresh"}`)
	tc := &fakeTokenCache{getErr: errors.New("redis down")}
	c, logs := newTestClient(t, up.URL, WithTokenCache(tc, 0))

	tok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Len(t, up.Calls(), 1)
	assert.Equal(t, 1, logs.FilterMessage("token cache read failed").Len())
	// no expires_in, nothing cached
	assert.Empty(t, tc.stored)
}

func TestInitiateTransaction_Scenario(t *testing.T) {
	up := newFakeUpstream(t, http.StatusAccepted, `{"status":"pending","serverCorrelationId":"srv-1","notificationMethod":"callback"}`)
	c, _ := newTestClient(t, up.URL)

	res, err := c.InitiateTransaction(context.Background(), "tok-123", scenarioRequest())
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.JSONEq(t, `{"status":"pending","serverCorrelationId":"srv-1","notificationMethod":"callback"}`, string(res.Body))

	calls := up.Calls()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/mvola/mm/transactions/type/merchantpay/1.0.0", call.Path)

	assert.Equal(t, "Bearer tok-123", call.Header.Get("Authorization"))
	assert.Equal(t, "1.0", call.Header.Get("Version"))
	assert.NotEmpty(t, call.Header.Get("X-CorrelationID"))
	assert.Equal(t, "MG", call.Header.Get("UserLanguage"))
	assert.Equal(t, "msisdn;0343500004", call.Header.Get("UserAccountIdentifier"))
	assert.Equal(t, "MyCompany", call.Header.Get("partnerName"))
	assert.Equal(t, "https://shop.example/callback", call.Header.Get("X-Callback-URL"))
	assert.Equal(t, "application/json", call.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", call.Header.Get("Cache-Control"))

	var env struct {
		Amount      string           `json:"amount"`
		Currency    string           `json:"currency"`
		RequestDate string           `json:"requestDate"`
		Metadata    []model.KeyValue `json:"metadata"`
		DebitParty  []model.KeyValue `json:"debitParty"`
		CreditParty []model.KeyValue `json:"creditParty"`
	}
	require.NoError(t, json.Unmarshal(call.Body, &env))
	assert.Equal(t, "15000", env.Amount)
	assert.Equal(t, "Ar", env.Currency)
	assert.Equal(t, []model.KeyValue{{Key: "msisdn", Value: "0343500003"}}, env.DebitParty)
	assert.Equal(t, []model.KeyValue{{Key: "msisdn", Value: "0343500004"}}, env.CreditParty)
	assert.Len(t, env.Metadata, 3)

	_, err = time.Parse(time.RFC3339Nano, env.RequestDate)
	assert.NoError(t, err)
}

func TestInitiateTransaction_UsesClock(t *testing.T) {
	up := newFakeUpstream(t, http.StatusAccepted, `{}`)
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 10_000_000, time.UTC)
	c, _ := newTestClient(t, up.URL, WithClock(func() time.Time { return fixed }))

	_, err := c.InitiateTransaction(context.Background(), "tok", scenarioRequest())
	require.NoError(t, err)

	var env model.Envelope
	require.NoError(t, json.Unmarshal(up.Calls()[0].Body, &env))
	assert.Equal(t, "2024-05-06T07:08:09.010Z", env.RequestDate)
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestTransactionHeaders_ExactCasing(t *testing.T) {
	var seen http.Header
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.Header
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(`{}`)),
			Header:     make(http.Header),
		}, nil
	})
	c, _ := newTestClient(t, "http://mvola.invalid", WithHTTPClient(doer))

	_, err := c.TransactionStatus(context.Background(), "tok", "srv-1")
	require.NoError(t, err)

	for _, k := range []string{
		"Authorization", "Version", "X-CorrelationID", "UserLanguage",
		"UserAccountIdentifier", "partnerName", "Content-Type", "X-Callback-URL", "Cache-Control",
	} {
		assert.Contains(t, seen, k)
	}
}

func TestTransactionCalls_FreshCorrelationIDs(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{}`)
	c, _ := newTestClient(t, up.URL)
	ctx := context.Background()

	_, err := c.InitiateTransaction(ctx, "tok", scenarioRequest())
	require.NoError(t, err)
	_, err = c.TransactionStatus(ctx, "tok", "srv-1")
	require.NoError(t, err)
	_, err = c.TransactionDetails(ctx, "tok", "tx-1")
	require.NoError(t, err)
	_, err = c.TransactionStatus(ctx, "tok", "srv-1")
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, call := range up.Calls() {
		id := call.Header.Get("X-CorrelationID")
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "correlation id %s reused", id)
		seen[id] = true
	}
	assert.Len(t, seen, 4)
}

func TestTransactionStatusAndDetails_Paths(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{"status":"completed"}`)
	c, _ := newTestClient(t, up.URL)
	ctx := context.Background()

	res, err := c.TransactionStatus(ctx, "tok", "srv-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"completed"}`, string(res.Body))

	_, err = c.TransactionDetails(ctx, "tok", "tx/42")
	require.NoError(t, err)

	calls := up.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodGet, calls[0].Method)
	assert.Equal(t, "/mvola/mm/transactions/type/merchantpay/1.0.0/status/srv-1", calls[0].Path)
	assert.Equal(t, "/mvola/mm/transactions/type/merchantpay/1.0.0/tx%2F42", calls[1].Path)
	assert.Empty(t, calls[1].Body)
}

func TestTransactionCalls_UpstreamFailureIsGeneric(t *testing.T) {
	const raw = `{"errorCategory":"validation","errorCode":"formatError","errorDescription":"debitParty msisdn invalid"}`

	cases := []struct {
		name string
		call func(c *Client) error
		op   string
		msg  string
	}{
		{"initiate", func(c *Client) error {
			_, err := c.InitiateTransaction(context.Background(), "tok", scenarioRequest())
			return err
		}, opInitiate, "failed to initiate transaction"},
		{"status", func(c *Client) error {
			_, err := c.TransactionStatus(context.Background(), "tok", "srv-1")
			return err
		}, opStatus, "failed to show transaction status"},
		{"details", func(c *Client) error {
			_, err := c.TransactionDetails(context.Background(), "tok", "tx-1")
			return err
		}, opDetails, "failed to show transaction details"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			up := newFakeUpstream(t, http.StatusBadRequest, raw)
			c, logs := newTestClient(t, up.URL)
			failuresBefore := testutil.ToFloat64(metrics.UpstreamRequestsTotal.WithLabelValues(tc.op, "failure"))

			err := tc.call(c)
			require.ErrorIs(t, err, ErrUpstream)

			var mErr *Error
			require.ErrorAs(t, err, &mErr)
			assert.Equal(t, tc.op, mErr.Op)
			assert.Equal(t, tc.msg, mErr.PublicMessage())
			assert.NotContains(t, mErr.PublicMessage(), "formatError")
			assert.Equal(t, http.StatusBadRequest, mErr.StatusCode)
			assert.JSONEq(t, raw, string(mErr.Body))

			entries := logs.FilterMessage("mvola upstream call failed").All()
			require.Len(t, entries, 1)
			fields := entries[0].ContextMap()
			assert.Equal(t, raw, fields["upstream_body"])
			assert.Equal(t, tc.op, fields["op"])
			assert.NotEmpty(t, fields["correlation_id"])

			assert.Equal(t, failuresBefore+1, testutil.ToFloat64(metrics.UpstreamRequestsTotal.WithLabelValues(tc.op, "failure")))
		})
	}
}

func TestTransactionCalls_EmptyTokenMakesNoCall(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{}`)
	c, _ := newTestClient(t, up.URL)

	_, err := c.InitiateTransaction(context.Background(), " ", scenarioRequest())
	require.ErrorIs(t, err, ErrAuthorization)
	_, err = c.TransactionStatus(context.Background(), "", "srv-1")
	require.ErrorIs(t, err, ErrAuthorization)

	assert.Empty(t, up.Calls())
}

func TestTransactionCalls_MissingIdentifier(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{}`)
	c, _ := newTestClient(t, up.URL)

	_, err := c.TransactionStatus(context.Background(), "tok", "")
	require.ErrorIs(t, err, ErrValidation)
	_, err = c.TransactionDetails(context.Background(), "tok", " ")
	require.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, up.Calls())
}

func TestTransactionCalls_NonJSONSuccess(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `<html>maintenance</html>`)
	c, _ := newTestClient(t, up.URL)

	_, err := c.TransactionDetails(context.Background(), "tok", "tx-1")
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "non-JSON")
}

func TestTransactionCalls_OversizedBody(t *testing.T) {
	big := `{"status":"completed","pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	up := newFakeUpstream(t, http.StatusOK, big)
	c, logs := newTestClient(t, up.URL)

	_, err := c.TransactionStatus(context.Background(), "tok", "srv-1")
	require.ErrorIs(t, err, ErrUpstream)
	require.ErrorIs(t, err, errBodyTooLarge)
	assert.NotContains(t, err.Error(), "non-JSON")

	var mErr *Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, http.StatusOK, mErr.StatusCode)
	assert.Equal(t, "failed to show transaction status", mErr.PublicMessage())
	assert.Equal(t, 1, logs.FilterMessage("mvola upstream call failed").Len())
}

func TestTransactionCalls_BodyAtLimitIsAccepted(t *testing.T) {
	prefix, suffix := `{"pad":"`, `"}`
	body := prefix + strings.Repeat("x", maxBodyBytes-len(prefix)-len(suffix)) + suffix
	up := newFakeUpstream(t, http.StatusOK, body)
	c, _ := newTestClient(t, up.URL)

	res, err := c.TransactionStatus(context.Background(), "tok", "srv-1")
	require.NoError(t, err)
	assert.Len(t, res.Body, maxBodyBytes)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.AuditEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func TestAuditEventPerUpstreamCall(t *testing.T) {
	up := newFakeUpstream(t, http.StatusOK, `{"access_token":"tok"}`)
	pub := &recordingPublisher{}
	c, _ := newTestClient(t, up.URL, WithAuditPublisher(pub))

	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	_, err = c.TransactionStatus(context.Background(), "tok", "srv-1")
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.Equal(t, opAuthenticate, pub.events[0].Operation)
	assert.Empty(t, pub.events[0].CorrelationID)
	assert.Equal(t, opStatus, pub.events[1].Operation)
	assert.Equal(t, up.Calls()[1].Header.Get("X-CorrelationID"), pub.events[1].CorrelationID)
	assert.Equal(t, http.StatusOK, pub.events[1].StatusCode)
	assert.Equal(t, model.OutcomeSuccess, pub.events[1].Outcome)
	assert.NotEmpty(t, pub.events[1].ID)
}
