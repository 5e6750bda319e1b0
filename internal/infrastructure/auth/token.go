// Package auth issues short-lived bearer tokens and tracks the signed-in user.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/ngoclaw/chatsync/pkg/errors"
)

const (
	tokenVersion = "v1"

	// DefaultTokenTTL 令牌默认有效期
	DefaultTokenTTL = 5 * time.Minute
)

// TokenIssuer signs and verifies bearer tokens of the form
// v1.<base64 user id>.<unix expiry>.<base64 hmac>.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer 创建令牌签发器
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, apperrors.NewInvalidInputError("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// SetClock replaces the time source.
func (i *TokenIssuer) SetClock(now func() time.Time) {
	i.now = now
}

// TTL 令牌有效期
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue 为用户签发令牌
func (i *TokenIssuer) Issue(userID string) (string, error) {
	if userID == "" {
		return "", apperrors.NewUnauthorizedError("cannot issue a token for an anonymous user")
	}
	exp := i.now().Add(i.ttl).Unix()
	body := tokenVersion + "." + base64.RawURLEncoding.EncodeToString([]byte(userID)) + "." + strconv.FormatInt(exp, 10)
	return body + "." + i.sign(body), nil
}

// Verify returns the user id a valid, unexpired token was issued for.
func (i *TokenIssuer) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 || parts[0] != tokenVersion {
		return "", apperrors.NewUnauthorizedError("malformed token")
	}
	body := strings.Join(parts[:3], ".")
	if !hmac.Equal([]byte(parts[3]), []byte(i.sign(body))) {
		return "", apperrors.NewUnauthorizedError("bad token signature")
	}
	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", apperrors.NewUnauthorizedError("malformed token expiry")
	}
	if i.now().Unix() > exp {
		return "", apperrors.NewUnauthorizedError("token expired")
	}
	uid, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(uid) == 0 {
		return "", apperrors.NewUnauthorizedError("malformed token subject")
	}
	return string(uid), nil
}

func (i *TokenIssuer) sign(body string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
