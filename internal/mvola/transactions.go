package mvola

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmehdipour/mvola-gateway/internal/model"
)

const merchantPayPath = "/mvola/mm/transactions/type/merchantpay/1.0.0"

// ProviderResponse is an upstream reply relayed without reinterpretation.
type ProviderResponse struct {
	StatusCode int
	Body       json.RawMessage
}

var opMessages = map[string]string{
	opInitiate: "failed to initiate transaction",
	opStatus:   "failed to show transaction status",
	opDetails:  "failed to show transaction details",
}

// InitiateTransaction submits a merchant-pay request built from req.
// req is expected to be validated by the caller.
func (c *Client) InitiateTransaction(ctx context.Context, token string, req model.TransactionRequest) (ProviderResponse, error) {
	env := model.NewEnvelope(req, c.meta, c.now())
	body, err := json.Marshal(env)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("encode envelope: %w", err)
	}
	return c.transactionCall(ctx, opInitiate, http.MethodPost, c.cfg.BaseURL+merchantPayPath, token, body)
}

// TransactionStatus fetches the status of the request identified by serverCorrelationID.
func (c *Client) TransactionStatus(ctx context.Context, token, serverCorrelationID string) (ProviderResponse, error) {
	if strings.TrimSpace(serverCorrelationID) == "" {
		return ProviderResponse{}, missingParam(opStatus, "serverCorrelationId")
	}
	u := c.cfg.BaseURL + merchantPayPath + "/status/" + url.PathEscape(serverCorrelationID)
	return c.transactionCall(ctx, opStatus, http.MethodGet, u, token, nil)
}

// TransactionDetails fetches a completed transaction by its MVola transaction id.
func (c *Client) TransactionDetails(ctx context.Context, token, transactionID string) (ProviderResponse, error) {
	if strings.TrimSpace(transactionID) == "" {
		return ProviderResponse{}, missingParam(opDetails, "transID")
	}
	u := c.cfg.BaseURL + merchantPayPath + "/" + url.PathEscape(transactionID)
	return c.transactionCall(ctx, opDetails, http.MethodGet, u, token, nil)
}

func (c *Client) transactionCall(ctx context.Context, op, method, u, token string, body []byte) (ProviderResponse, error) {
	if strings.TrimSpace(token) == "" {
		return ProviderResponse{}, &Error{
			Kind:    KindAuthorization,
			Op:      op,
			Message: "authorization token is missing or invalid",
		}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return ProviderResponse{}, upstreamError(op, 0, nil, err)
	}

	correlationID := c.correlationID()
	req.Header = c.transactionHeaders(token, correlationID)

	status, respBody, err := c.roundTrip(ctx, op, req, correlationID)
	if err != nil {
		c.logUpstreamFailure(op, correlationID, status, respBody, err)
		return ProviderResponse{}, upstreamError(op, status, respBody, err)
	}
	if status/100 != 2 {
		err := fmt.Errorf("upstream status %d", status)
		c.logUpstreamFailure(op, correlationID, status, respBody, err)
		return ProviderResponse{}, upstreamError(op, status, respBody, err)
	}
	if len(respBody) > 0 && !json.Valid(respBody) {
		err := errors.New("upstream returned a non-JSON body")
		c.logUpstreamFailure(op, correlationID, status, respBody, err)
		return ProviderResponse{}, upstreamError(op, status, respBody, err)
	}

	return ProviderResponse{StatusCode: status, Body: respBody}, nil
}

func upstreamError(op string, status int, body []byte, err error) *Error {
	return &Error{
		Kind:       KindUpstream,
		Op:         op,
		Message:    opMessages[op],
		StatusCode: status,
		Body:       body,
		Err:        err,
	}
}

func missingParam(op, name string) *Error {
	return &Error{
		Kind:    KindValidation,
		Op:      op,
		Message: name + " is required",
	}
}
