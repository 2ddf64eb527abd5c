package callrelay

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const relayTokenTTL = 10 * time.Minute

// RelayToken is a short-lived credential for the relay websocket.
type RelayToken struct {
	Token     string
	ExpiresAt int64 // unix millis
}

// MintRelayToken signs a websocket credential with the shared relay secret.
// peerID identifies the counterparty and lands in the token claims.
func MintRelayToken(secret, peerID string) (*RelayToken, error) {
	if secret == "" {
		return nil, NewRelayError("relay secret is empty", ErrCodeTokenInvalid)
	}

	expiresAt := time.Now().Add(relayTokenTTL)
	claims := jwt.MapClaims{
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}
	if peerID != "" {
		claims["peer"] = peerID
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return nil, WrapError(err, "failed to sign relay token", ErrCodeTokenInvalid)
	}

	return &RelayToken{Token: signed, ExpiresAt: expiresAt.UnixMilli()}, nil
}

// VerifyRelayToken checks a presented token against the shared secret. Only
// HS256 is accepted; expiry is enforced by the parser.
func VerifyRelayToken(secret, token string) error {
	if token == "" {
		return NewRelayError("no relay token presented", ErrCodeTokenInvalid)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return WrapError(err, "relay token rejected", ErrCodeTokenInvalid)
	}
	if !parsed.Valid {
		return NewRelayError("relay token invalid", ErrCodeTokenInvalid)
	}
	return nil
}

// IsTokenExpired reports whether a minted token is past its expiry.
func IsTokenExpired(token *RelayToken) bool {
	return time.Now().UnixMilli() > token.ExpiresAt
}
