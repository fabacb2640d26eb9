package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmehdipour/mvola-gateway/internal/http/middleware"
	"github.com/jmehdipour/mvola-gateway/internal/model"
	"github.com/jmehdipour/mvola-gateway/internal/mvola"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Gateway is the MVola surface the handlers depend on; *mvola.Client implements it.
type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	InitiateTransaction(ctx context.Context, token string, req model.TransactionRequest) (mvola.ProviderResponse, error)
	TransactionStatus(ctx context.Context, token, serverCorrelationID string) (mvola.ProviderResponse, error)
	TransactionDetails(ctx context.Context, token, transactionID string) (mvola.ProviderResponse, error)
}

type mvolaHandlers struct {
	gw  Gateway
	log *zap.Logger
}

func (h *mvolaHandlers) authenticate(c echo.Context) error {
	tok, err := h.gw.Authenticate(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"token": tok})
}

func (h *mvolaHandlers) createTransaction(c echo.Context) error {
	// auth (set by BearerTokenMiddleware)
	tok, ok := middleware.BearerTokenFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authorization token is missing or invalid"})
	}

	var req model.TransactionRequest
	if err := c.Bind(&req); err != nil {
		// echo wraps decoder errors in HTTPError.Internal
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return h.writeError(c, model.ValidationErrors{typeErr.Field: typeErr.Field + " must be a string"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
	}
	if err := req.Validate(); err != nil {
		return h.writeError(c, err)
	}

	res, err := h.gw.InitiateTransaction(c.Request().Context(), tok, req)
	if err != nil {
		return h.writeError(c, err)
	}
	return relay(c, res)
}

func (h *mvolaHandlers) transactionStatus(c echo.Context) error {
	tok, ok := middleware.BearerTokenFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authorization token is missing or invalid"})
	}

	res, err := h.gw.TransactionStatus(c.Request().Context(), tok, c.Param("serverCorrelationId"))
	if err != nil {
		return h.writeError(c, err)
	}
	return relay(c, res)
}

func (h *mvolaHandlers) transactionDetails(c echo.Context) error {
	tok, ok := middleware.BearerTokenFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authorization token is missing or invalid"})
	}

	res, err := h.gw.TransactionDetails(c.Request().Context(), tok, c.Param("transID"))
	if err != nil {
		return h.writeError(c, err)
	}
	return relay(c, res)
}

// relay passes the upstream status and JSON body through untouched.
func relay(c echo.Context, res mvola.ProviderResponse) error {
	status := res.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if len(res.Body) == 0 {
		return c.NoContent(status)
	}
	return c.JSONBlob(status, res.Body)
}

func (h *mvolaHandlers) writeError(c echo.Context, err error) error {
	var verrs model.ValidationErrors
	if errors.As(err, &verrs) {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verrs,
		})
	}

	var mErr *mvola.Error
	if !errors.As(err, &mErr) {
		h.log.Error("unexpected handler error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	status := http.StatusInternalServerError
	switch mErr.Kind {
	case mvola.KindValidation:
		status = http.StatusBadRequest
	case mvola.KindAuthorization:
		status = http.StatusUnauthorized
	case mvola.KindAuthentication, mvola.KindUpstream:
		status = http.StatusBadGateway
	case mvola.KindConfiguration:
		h.log.Error("gateway misconfigured", zap.String("op", mErr.Op), zap.Error(err))
	}
	return c.JSON(status, map[string]string{"error": mErr.PublicMessage()})
}
