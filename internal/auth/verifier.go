package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const playPermission = "play"

// Claims are the session token claims the gateway cares about.
type Claims struct {
	UserID      string   `json:"user_id"`
	SessionID   string   `json:"session_id"`
	RoomID      string   `json:"room_id"`
	ServiceID   string   `json:"service_id"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// InvalidTokenError rejects a token with a client-safe reason string.
type InvalidTokenError struct {
	Reason string
	Err    error
}

func (e *InvalidTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid token: %s: %v", e.Reason, e.Err)
	}
	return "invalid token: " + e.Reason
}

func (e *InvalidTokenError) Unwrap() error { return e.Err }

// Verifier validates RS256 session tokens against the JWKS cache.
type Verifier struct {
	jwks      *JWKSCache
	serviceID string
	issuer    string
	logger    *slog.Logger
	parser    *jwt.Parser
}

// NewVerifier builds a verifier for tokens addressed to this service.
// issuer is optional; when empty the iss claim is not checked.
func NewVerifier(jwks *JWKSCache, serviceID, issuer string, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		jwks:      jwks,
		serviceID: serviceID,
		issuer:    issuer,
		logger:    logger.With("component", "auth"),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithLeeway(60*time.Second),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify parses and validates a session token. On an unknown kid or a
// signature mismatch it forces one JWKS refresh and retries, so a key
// rotation costs a single extra fetch rather than a failed login.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := v.parseOnce(ctx, tokenString)
	if err != nil && v.shouldRetryAfterRefresh(err) {
		if rerr := v.jwks.ForceRefresh(ctx); rerr != nil {
			v.logger.Warn("jwks refresh for retry failed", "error", rerr)
		}
		claims, err = v.parseOnce(ctx, tokenString)
	}
	if err != nil {
		return nil, err
	}
	return claims, v.checkClaims(claims)
}

func (v *Verifier) parseOnce(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, &InvalidTokenError{Reason: "missing kid header"}
		}
		return v.jwks.Key(ctx, kid)
	})
	if err != nil {
		var invalid *InvalidTokenError
		if errors.As(err, &invalid) {
			return nil, invalid
		}
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &InvalidTokenError{Reason: "token expired", Err: err}
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, &InvalidTokenError{Reason: "token not valid yet", Err: err}
		default:
			return nil, &InvalidTokenError{Reason: "verification failed", Err: err}
		}
	}
	return claims, nil
}

// shouldRetryAfterRefresh reports whether a failure could be a stale key
// cache rather than a bad token.
func (v *Verifier) shouldRetryAfterRefresh(err error) bool {
	return errors.Is(err, errKeyNotFound) || errors.Is(err, jwt.ErrTokenSignatureInvalid)
}

func (v *Verifier) checkClaims(c *Claims) error {
	if v.issuer != "" && c.Issuer != v.issuer {
		return &InvalidTokenError{Reason: "wrong issuer"}
	}

	// The audience binds the token to this deployment. Older tokens carry
	// the service id in a dedicated claim instead.
	wantAud := "usion-game-service:" + v.serviceID
	audOK := false
	for _, aud := range c.Audience {
		if aud == wantAud {
			audOK = true
			break
		}
	}
	if !audOK && c.ServiceID != v.serviceID {
		return &InvalidTokenError{Reason: "token not addressed to this service"}
	}

	hasPlay := false
	for _, p := range c.Permissions {
		if p == playPermission {
			hasPlay = true
			break
		}
	}
	if !hasPlay {
		return &InvalidTokenError{Reason: "missing play permission"}
	}

	// The user id is the token subject; some issuers also mirror it in a
	// user_id claim, which wins when both are present.
	if c.UserID == "" {
		c.UserID = c.Subject
	}
	if c.UserID == "" {
		return &InvalidTokenError{Reason: "missing user id"}
	}
	if c.SessionID == "" {
		return &InvalidTokenError{Reason: "missing session id"}
	}
	return nil
}
