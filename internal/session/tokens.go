package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer mints the opaque strings carried by a credential.
type TokenIssuer interface {
	AccessToken(userID, deviceID string, issuedAt, expiresAt time.Time) (string, error)
	RefreshToken() (string, error)
}

// TokenVerifier checks an access token without consulting storage.
type TokenVerifier interface {
	VerifyAccessToken(token string, now time.Time) (*AccessClaims, error)
}

// AccessClaims are the claims embedded in an access token.
type AccessClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// JWTIssuer signs access tokens with HS256 and mints random refresh tokens.
type JWTIssuer struct {
	secret []byte
	issuer string
}

// NewJWTIssuer builds an issuer. The secret must not be empty.
func NewJWTIssuer(secret, issuer string) (*JWTIssuer, error) {
	if secret == "" {
		return nil, errors.New("session: jwt secret is required")
	}
	return &JWTIssuer{secret: []byte(secret), issuer: issuer}, nil
}

// AccessToken signs a token for userID on deviceID. Each token carries a
// unique jti so two tokens issued in the same second still differ.
func (j *JWTIssuer) AccessToken(userID, deviceID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := AccessClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    j.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// RefreshToken returns a random opaque token.
func (j *JWTIssuer) RefreshToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return id.String(), nil
}

// VerifyAccessToken validates signature and expiry against now.
func (j *JWTIssuer) VerifyAccessToken(token string, now time.Time) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }), jwt.WithIssuer(j.issuer))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrInvalidToken.Wrap(err)
	case !parsed.Valid:
		return nil, ErrInvalidToken
	}
	return claims, nil
}
