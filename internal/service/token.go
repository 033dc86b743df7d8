package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/model"
)

const (
	TokenIssuerName = "pear-connect"
	DefaultTokenTTL = 365 * 24 * time.Hour
)

// TokenClaims bind a device to the session it originally paired from.
type TokenClaims struct {
	jwt.RegisteredClaims

	SessionOriginID string           `json:"sid"`
	DeviceName      string           `json:"deviceName"`
	DeviceType      model.DeviceType `json:"deviceType"`
}

func (c *TokenClaims) Device() model.DeviceInfo {
	return model.DeviceInfo{Name: c.DeviceName, Type: model.ParseDeviceType(string(c.DeviceType))}
}

// TokenIssuer signs and verifies HS256 bearer tokens. Nothing is stored:
// a token is valid while its signature checks out and it has not expired.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

func (t *TokenIssuer) Issue(sessionID string, device model.DeviceInfo) (string, error) {
	now := t.now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuerName,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
		SessionOriginID: sessionID,
		DeviceName:      device.Name,
		DeviceType:      device.Type,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the token's claims, or TOKEN_EXPIRED / TOKEN_INVALID.
func (t *TokenIssuer) Verify(tokenStr string) (*TokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)

	token, err := parser.ParseWithClaims(tokenStr, &TokenClaims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.TokenExpired().WithCause(err)
		}
		return nil, apperrors.TokenInvalid().WithCause(err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, apperrors.TokenInvalid()
	}
	return claims, nil
}
