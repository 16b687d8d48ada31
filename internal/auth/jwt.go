package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims read from bearer tokens. TeamID takes precedence
// over the subject as tenant.
type Claims struct {
	TeamID string `json:"team_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig configures HS256 token verification.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// JWTVerifier resolves HS256-signed tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier builds a verifier. The secret is required.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTVerifier{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

// Resolve implements TokenResolver. Tokens that are not well-formed JWTs, fail
// verification or carry no tenant are reported as unknown.
func (v *JWTVerifier) Resolve(_ context.Context, token string) (string, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrUnknownToken
	}
	if claims.TeamID != "" {
		return claims.TeamID, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", ErrUnknownToken
}

// Sign issues an HS256 token carrying claims.
func (v *JWTVerifier) Sign(claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
