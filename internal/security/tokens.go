package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidState = errors.New("invalid oauth state")

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewSessionToken returns the opaque value handed to the browser cookie.
func NewSessionToken() (string, error) {
	return randomToken(32)
}

// HashSessionToken is the only form of the session token that gets persisted.
func HashSessionToken(token, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	_, _ = mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func NewCSRFToken() (string, error) {
	return randomToken(24)
}

// SignState builds "nonce.expiry.signature" for the oauth round trip.
func SignState(secret string, ttl time.Duration, now time.Time) (string, error) {
	nonce, err := randomToken(16)
	if err != nil {
		return "", err
	}
	payload := nonce + "." + strconv.FormatInt(now.Add(ttl).Unix(), 10)
	return payload + "." + stateSignature(secret, payload), nil
}

func VerifyState(secret, state string, now time.Time) error {
	parts := strings.Split(state, ".")
	if len(parts) != 3 {
		return ErrInvalidState
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(stateSignature(secret, payload)), []byte(parts[2])) {
		return ErrInvalidState
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || now.Unix() > exp {
		return ErrInvalidState
	}
	return nil
}

func stateSignature(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
