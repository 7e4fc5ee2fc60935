package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/wingfox/pkg/context"
	"github.com/Ramsey-B/wingfox/pkg/logger"
	"github.com/Ramsey-B/wingfox/pkg/middleware"
)

type stubVerifier struct {
	sub string
	err error
}

func (s stubVerifier) Verify(_ context.Context, raw string) (*middleware.UserClaims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &middleware.UserClaims{Sub: s.sub}, nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger.NewEcto(zap.NewNop()))
	e.Use(middleware.Context())
	return e
}

func TestAuthenticationSetsUser(t *testing.T) {
	e := newEcho()
	var seen string
	e.GET("/me", func(c echo.Context) error {
		seen = appctx.GetUserID(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}, middleware.Authentication(zap.NewNop(), stubVerifier{sub: "user-42"}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer abc")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-42", seen)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestAuthenticationRejectsMissingBearer(t *testing.T) {
	e := newEcho()
	e.GET("/me", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, middleware.Authentication(zap.NewNop(), stubVerifier{sub: "x"}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing bearer")
}

func TestAuthenticationRejectsInvalidToken(t *testing.T) {
	e := newEcho()
	e.GET("/me", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, middleware.Authentication(zap.NewNop(), stubVerifier{err: middleware.ErrInvalidToken}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer nope")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	e := newEcho()
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("pq: connection refused")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-7")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, rec.Body.String(), `"request_id":"req-7"`)
}

func TestErrorHandlerMapsHTTPErrors(t *testing.T) {
	e := newEcho()
	e.GET("/missing", func(c echo.Context) error {
		return fmt.Errorf("load match: %w", httperror.NewHTTPErrorf(http.StatusNotFound, "match %s does not exist", "m-1"))
	})
	e.GET("/failed", func(c echo.Context) error {
		wrapped := httperror.WrapError(http.StatusInternalServerError, errors.New("pq: deadlock detected"))
		wrapped.Message = "failed to update match"
		return wrapped.AddMetaValue("match_id", "m-1")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "match m-1 does not exist", body.Message)
	assert.Empty(t, body.Meta)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/failed", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "deadlock")

	body = middleware.ErrorResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed to update match", body.Message)
	assert.Equal(t, "m-1", body.Meta["match_id"])
}

func TestInsecureVerifier(t *testing.T) {
	claims, err := middleware.InsecureVerifier{}.Verify(context.Background(), " user-1 ")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Sub)

	_, err = middleware.InsecureVerifier{}.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, middleware.ErrInvalidToken)
}
