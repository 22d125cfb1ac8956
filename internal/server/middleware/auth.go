package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

// AuthChallenge is sent in WWW-Authenticate on every rejected request.
const AuthChallenge = `Bearer realm="keygate"`

// Rejection messages.
const (
	MsgNotConfigured      = "API authentication is not configured"
	MsgConflictingTokens  = "Conflicting API tokens"
	MsgMissingToken       = "Missing API token"
	MsgInvalidToken       = "Invalid API token"
	MsgKeyExpired         = "API key expired"
	MsgTotalQuotaExceeded = "API key total quota exceeded"
	MsgDailyQuotaExceeded = "API key daily quota exceeded"
)

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// KeyLookup finds managed keys by secret.
type KeyLookup interface {
	GetByToken(ctx context.Context, token string) (*model.ManagedAPIKey, error)
	Count(ctx context.Context) (int, error)
}

// UsageCounter reads and records per-key usage.
type UsageCounter interface {
	Summary(ctx context.Context, keyID string, ref time.Time) (model.UsageSummary, error)
	RecordUsageSafely(ctx context.Context, keyID string, uc model.UsageContext)
}

type managedKeyCtxKey struct{}

// ManagedKeyID returns the id of the managed key that authorized the
// request, or "" for static tokens and unprotected paths.
func ManagedKeyID(ctx context.Context) string {
	id, _ := ctx.Value(managedKeyCtxKey{}).(string)
	return id
}

// WithManagedKeyID returns ctx carrying a managed key id.
func WithManagedKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, managedKeyCtxKey{}, id)
}

// CredentialResolver authenticates requests to protected path prefixes
// against static tokens and managed keys, enforcing expiry and quota for
// managed keys and recording their usage after the response.
type CredentialResolver struct {
	static   []string
	prefixes []string
	keys     KeyLookup
	usage    UsageCounter
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewCredentialResolver creates a resolver. staticTokens carry no quota or
// expiry; prefixes select the protected paths.
func NewCredentialResolver(staticTokens, prefixes []string, keys KeyLookup, usage UsageCounter, logger *slog.Logger) *CredentialResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialResolver{
		static:   staticTokens,
		prefixes: prefixes,
		keys:     keys,
		usage:    usage,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *CredentialResolver) protected(path string) bool {
	for _, p := range c.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (c *CredentialResolver) isStatic(token string) bool {
	for _, t := range c.static {
		if t == token {
			return true
		}
	}
	return false
}

func extractBearer(header string) string {
	m := bearerPattern.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func reject(w http.ResponseWriter, status int, message string) {
	w.Header().Set("WWW-Authenticate", AuthChallenge)
	writeError(w, status, message)
}

// Handler wraps next with credential checks.
func (c *CredentialResolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !c.protected(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		if len(c.static) == 0 {
			n, err := c.keys.Count(ctx)
			if err != nil {
				c.logger.Error("count managed keys", "error", err)
				reject(w, http.StatusInternalServerError, "Failed to verify API token")
				return
			}
			if n == 0 {
				reject(w, http.StatusUnauthorized, MsgNotConfigured)
				return
			}
		}

		bearer := extractBearer(r.Header.Get("Authorization"))
		apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if bearer != "" && apiKey != "" && bearer != apiKey {
			reject(w, http.StatusUnauthorized, MsgConflictingTokens)
			return
		}
		token := bearer
		if token == "" {
			token = apiKey
		}
		if token == "" {
			reject(w, http.StatusUnauthorized, MsgMissingToken)
			return
		}

		// Static tokens carry no record, so they never touch the store.
		if c.isStatic(token) {
			next.ServeHTTP(w, r)
			return
		}

		key, err := c.keys.GetByToken(ctx, token)
		switch {
		case errors.Is(err, service.ErrKeyNotFound):
			reject(w, http.StatusUnauthorized, MsgInvalidToken)
			return
		case err != nil:
			c.logger.Error("look up managed key", "error", err)
			reject(w, http.StatusInternalServerError, "Failed to verify API token")
			return
		}

		now := c.now()
		if key.Expired(model.NewTimestamp(now)) {
			reject(w, http.StatusUnauthorized, MsgKeyExpired)
			return
		}
		if key.TotalLimit != nil || key.DailyLimit != nil {
			sum, err := c.usage.Summary(ctx, key.ID, now)
			if err != nil {
				c.logger.Error("read key usage", "key_id", key.ID, "error", err)
				reject(w, http.StatusInternalServerError, "Failed to check API key quota")
				return
			}
			if key.TotalLimit != nil && sum.Total >= *key.TotalLimit {
				reject(w, http.StatusTooManyRequests, MsgTotalQuotaExceeded)
				return
			}
			if key.DailyLimit != nil && sum.Daily >= *key.DailyLimit {
				reject(w, http.StatusTooManyRequests, MsgDailyQuotaExceeded)
				return
			}
		}

		setLogKeyID(ctx, key.ID)
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r.WithContext(WithManagedKeyID(ctx, key.ID)))

		uc := model.UsageContext{Method: r.Method, Path: r.URL.Path, Status: ww.status}
		recordCtx := context.WithoutCancel(ctx)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.usage.RecordUsageSafely(recordCtx, key.ID, uc)
		}()
	})
}

// Wait blocks until in-flight usage recording has finished.
func (c *CredentialResolver) Wait() {
	c.wg.Wait()
}
