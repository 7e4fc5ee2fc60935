package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/wingfox/pkg/context"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

// ErrInvalidToken is returned when a credential cannot be resolved to a user.
var ErrInvalidToken = errors.New("invalid token")

type UserClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

// TokenVerifier resolves a raw credential to the user it identifies. It is shared by the
// bearer middleware and the observer websocket auth message.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*UserClaims, error)
}

// OIDCVerifier verifies ID tokens against an OpenID Connect issuer.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	timeout  time.Duration
}

func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		timeout:  5 * time.Second,
	}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (*UserClaims, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims UserClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: cannot parse claims: %v", ErrInvalidToken, err)
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &claims, nil
}

// InsecureVerifier treats the raw token as the user id. Only wired when AUTH_ENABLED is false.
type InsecureVerifier struct{}

func (InsecureVerifier) Verify(_ context.Context, raw string) (*UserClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	return &UserClaims{Sub: raw}, nil
}

func Authentication(logger *zap.Logger, verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracing.StartSpan(c.Request().Context(), "middleware.Authentication")
			defer span.End()

			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				appctx.Logger(ctx, logger).Warn("request is missing bearer token")
				return httperror.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			claims, err := verifier.Verify(ctx, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				appctx.Logger(ctx, logger).Warn("token is invalid", zap.Error(err))
				return httperror.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx = appctx.SetUserID(ctx, claims.Sub)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
