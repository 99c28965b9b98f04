package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")
)

// Claims are the bearer token claims for extension clients
type Claims struct {
	jwt.RegisteredClaims
	VisitorID string `json:"visitor_id,omitempty"`
}

// ParsedClaims represents validated claims
type ParsedClaims struct {
	Subject   string
	VisitorID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService issues and validates HS256 tokens signed with a shared key
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Config holds configuration for TokenService
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// NewTokenService creates a token service. TTL defaults to 24 hours.
func NewTokenService(config Config) *TokenService {
	if config.TTL == 0 {
		config.TTL = 24 * time.Hour
	}
	return &TokenService{
		secret: []byte(config.Secret),
		issuer: config.Issuer,
		ttl:    config.TTL,
		now:    time.Now,
	}
}

// Issue signs a token for subject
func (s *TokenService) Issue(subject, visitorID string) (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		VisitorID: visitorID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a bearer token and returns its claims
func (s *TokenService) ValidateToken(ctx context.Context, tokenString string) (*ParsedClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, s.issuer, claims.Issuer)
	}

	parsed := &ParsedClaims{
		Subject:   claims.Subject,
		VisitorID: claims.VisitorID,
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}
	return parsed, nil
}
