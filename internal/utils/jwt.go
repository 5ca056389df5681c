package utils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for every verification failure: bad signature,
// wrong signing method, malformed payload, expired token. Callers must not
// distinguish between those cases to avoid acting as an oracle.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the claim set carried by both token kinds.
type Identity struct {
	UserID uint64
	Email  string
	Role   string
}

// SignedToken is a serialized JWT together with its expiry.
type SignedToken struct {
	Token string
	Exp   time.Time
}

// tokenClaims is the wire shape of our HS256 tokens. Nonce is only set on
// renewable tokens so two tokens issued in the same second never collide.
type tokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Nonce string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// NewAccessToken signs a short-lived access token. Access tokens are
// verified statelessly; they cannot be revoked before expiry, which is why
// the TTL stays short.
func NewAccessToken(secret string, id Identity, ttl time.Duration) (SignedToken, error) {
	return sign(secret, id, ttl, "")
}

// NewRefreshToken signs a renewable token with a random per-issuance nonce.
// It uses its own secret so a leaked access key cannot mint refresh tokens
// or the other way around. The caller must persist the value before handing
// it to the client; a signature-valid token absent from the store is dead.
func NewRefreshToken(secret string, id Identity, ttl time.Duration) (SignedToken, error) {
	nonce, err := randomHex(16)
	if err != nil {
		return SignedToken{}, err
	}
	return sign(secret, id, ttl, nonce)
}

func sign(secret string, id Identity, ttl time.Duration, nonce string) (SignedToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := tokenClaims{
		Email: id.Email,
		Role:  id.Role,
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(id.UserID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken checks signature and expiry of an access token and
// returns the embedded identity.
func ParseAccessToken(secret, raw string) (Identity, error) {
	return parse(secret, raw)
}

// ParseRefreshToken checks signature and expiry of a renewable token. This
// is only the first of the two required layers; the caller must also confirm
// the token is still present in the credential store for the same user.
func ParseRefreshToken(secret, raw string) (Identity, error) {
	return parse(secret, raw)
}

func parse(secret, raw string) (Identity, error) {
	var claims tokenClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return Identity{}, ErrInvalidToken
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: uid, Email: claims.Email, Role: claims.Role}, nil
}

// randomHex returns n bytes of secure randomness as a hex string.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
