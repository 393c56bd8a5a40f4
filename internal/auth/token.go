package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"rollcall/internal/services"
)

// Tokens issues and verifies principal tokens with a shared HS256 secret.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type principalClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

// NewTokens builds a token service. ttl <= 0 falls back to twelve hours.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	if now != nil {
		t.now = now
	}
	return t
}

// Issue signs a token for p.
func (t *Tokens) Issue(p Principal) (string, error) {
	if len(t.secret) == 0 {
		return "", services.Wrap(services.ErrConfiguration, "auth", "issue", "jwt secret not configured", nil)
	}
	if p.UserID <= 0 {
		return "", services.Wrap(services.ErrValidation, "auth", "issue", "principal user id required", nil)
	}
	now := t.now().UTC()
	claims := principalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
		Name: p.Name,
		Role: string(p.Role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "auth", "issue", "sign token", err)
	}
	return signed, nil
}

// Verify parses a bearer token and returns its principal.
func (t *Tokens) Verify(raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, services.Wrap(services.ErrUnauthenticated, "auth", "verify", "token required", nil)
	}
	var claims principalClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Principal{}, mapJWTError(err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, services.Wrap(services.ErrUnauthenticated, "auth", "verify", "invalid subject", err)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Principal{}, services.Wrap(services.ErrUnauthenticated, "auth", "verify", "invalid role", err)
	}
	return Principal{UserID: id, Name: claims.Name, Role: role}, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return services.Wrap(services.ErrUnauthenticated, "auth", "verify", "token expired", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return services.Wrap(services.ErrUnauthenticated, "auth", "verify", "token not active yet", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return services.Wrap(services.ErrUnauthenticated, "auth", "verify", "issuer mismatch", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return services.Wrap(services.ErrUnauthenticated, "auth", "verify", "bad signature", err)
	default:
		return services.Wrap(services.ErrUnauthenticated, "auth", "verify", "malformed token", err)
	}
}
