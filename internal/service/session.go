package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SessionTTL is the lifetime of an admin session token.
const SessionTTL = 12 * time.Hour

// SessionSigner issues and verifies stateless admin session tokens. The
// signing key is derived from the configured credentials, so changing them
// invalidates every outstanding session.
type SessionSigner struct {
	username string
	password string
	now      func() time.Time
}

// NewSessionSigner creates a signer for the configured admin credentials.
// The username is trimmed.
func NewSessionSigner(username, password string) *SessionSigner {
	return &SessionSigner{
		username: strings.TrimSpace(username),
		password: password,
		now:      time.Now,
	}
}

// Configured reports whether admin authentication is enabled.
func (s *SessionSigner) Configured() bool {
	return s.username != "" || s.password != ""
}

// Login checks the supplied credentials. Without configured credentials
// every login succeeds. A configuration without a username issues no
// sessions, since Verify rejects tokens carrying an empty username.
func (s *SessionSigner) Login(username, password string) bool {
	if !s.Configured() {
		return true
	}
	if s.username == "" {
		return false
	}
	return username == s.username && password == s.password
}

func (s *SessionSigner) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(s.username+":"+s.password))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue returns a session token for username valid for SessionTTL.
func (s *SessionSigner) Issue(username string) string {
	expires := s.now().Add(SessionTTL).Unix()
	payload := username + ":" + strconv.FormatInt(expires, 10)
	raw := payload + ":" + s.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Verify checks a session token. All failures other than expiry report
// ErrInvalidCredentials.
func (s *SessionSigner) Verify(token string) error {
	if !s.Configured() {
		return ErrInvalidCredentials
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return ErrInvalidCredentials
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ErrInvalidCredentials
	}
	username, expiresRaw, signature := parts[0], parts[1], parts[2]
	if username != s.username {
		return ErrInvalidCredentials
	}
	expires, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return ErrInvalidCredentials
	}
	if expires < s.now().Unix() {
		return ErrTokenExpired
	}

	expected := s.sign(username + ":" + strconv.FormatInt(expires, 10))
	if len(signature) != len(expected) {
		return ErrInvalidCredentials
	}
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidCredentials
	}
	return nil
}

// Authenticated reports whether a request carrying token (possibly empty)
// may use admin endpoints.
func (s *SessionSigner) Authenticated(token string) bool {
	if !s.Configured() {
		return true
	}
	return token != "" && s.Verify(token) == nil
}
