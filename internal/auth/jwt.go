package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles recognised by the admin API
const (
	RoleAdmin   = "admin"
	RoleDPO     = "dpo"
	RoleAuditor = "auditor"
	RoleUser    = "user"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingTenant = errors.New("token has no tenant")
)

// Claims represents the claims in an access token
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the subject a token is issued for
type Identity struct {
	UserID   string
	TenantID string
	Email    string
	Name     string
	Role     string
}

// JWTService signs and validates HS256 access tokens
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(secret, issuer string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTService{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// GenerateToken issues an access token for id
func (j *JWTService) GenerateToken(id Identity) (string, time.Time, error) {
	if id.UserID == "" || id.TenantID == "" {
		return "", time.Time{}, fmt.Errorf("user id and tenant id are required")
	}

	now := j.now()
	expiresAt := now.Add(j.ttl)
	claims := Claims{
		UserID:   id.UserID,
		TenantID: id.TenantID,
		Email:    id.Email,
		Name:     id.Name,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses tokenString and returns its claims. Tokens without a
// user or tenant are rejected.
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	if claims.TenantID == "" {
		return nil, ErrMissingTenant
	}
	return claims, nil
}
