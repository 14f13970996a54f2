package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pedix/config"
	"pedix/internal/domain"
)

// Leeway absorbs clock skew between this process and the account service.
const Leeway = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("unknown role")
)

// Claims identify a marketplace party. Tokens are issued by the account service; this
// process only verifies them, apart from operator tokens minted by payctl.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// PartyID is the user the token speaks for. The subject wins; user_id is accepted
// alone for tokens minted before the account service set sub.
func (c *Claims) PartyID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

func (c *Claims) IsAdmin() bool { return c.Role == domain.RoleAdmin }

func GenerateAccessToken(cfg *config.JWTConfig, userID, role string) (string, error) {
	if !domain.ValidRole(role) {
		return "", fmt.Errorf("%w %q", ErrUnknownRole, role)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidToken)
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.AccessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.AccessSecret))
}

// ParseAccessToken verifies signature, expiry and, when configured, the issuer. A token
// whose sub and user_id disagree, or whose role is not a marketplace role, is rejected.
func ParseAccessToken(cfg *config.JWTConfig, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.AccessSecret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	switch {
	case claims.PartyID() == "":
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	case claims.Subject != "" && claims.UserID != "" && claims.Subject != claims.UserID:
		return nil, fmt.Errorf("%w: subject does not match user_id", ErrInvalidToken)
	case !domain.ValidRole(claims.Role):
		return nil, fmt.Errorf("%w: %w %q", ErrInvalidToken, ErrUnknownRole, claims.Role)
	}
	claims.UserID = claims.PartyID()
	return claims, nil
}
