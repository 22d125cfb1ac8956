package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/store"
)

// KeyPrefix marks generated managed key secrets.
const KeyPrefix = "cpk_"

const keySecretBytes = 24

var keyIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// KeySettings are the policy fields of a managed key. An empty ExpiresAt
// means the key never expires.
type KeySettings struct {
	TotalLimit *int
	DailyLimit *int
	ExpiresAt  string
}

// KeyRegistry manages API keys in the keys collection.
type KeyRegistry struct {
	keys   *store.Collection[model.ManagedAPIKey]
	static []string
	now    func() time.Time
	rand   io.Reader
}

// NewKeyRegistry creates a registry over backend. staticTokens are the
// configured tokens that carry no record; they are only used by Tokens.
func NewKeyRegistry(backend store.Backend, staticTokens []string) *KeyRegistry {
	return &KeyRegistry{
		keys:   store.NewCollection(backend, store.KeysCollection, validKey),
		static: staticTokens,
		now:    time.Now,
		rand:   rand.Reader,
	}
}

func validKey(k *model.ManagedAPIKey) bool {
	return k.ID != "" && k.Key != "" && !k.CreatedAt.IsZero()
}

// NormalizeKeyID trims surrounding whitespace from an id.
func NormalizeKeyID(id string) string {
	return strings.TrimSpace(id)
}

// ValidateKeyID returns ErrInvalidID unless id is a non-empty run of
// letters, digits, dot, underscore or hyphen.
func ValidateKeyID(id string) error {
	if id == "" || !keyIDPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// ParseLimit decodes a JSON limit value. Absent and null mean no limit;
// anything other than a non-negative integer is ErrInvalidLimit.
func ParseLimit(raw json.RawMessage) (*int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, ErrInvalidLimit
	}
	n := int(f)
	if f < 0 || float64(n) != f {
		return nil, ErrInvalidLimit
	}
	return &n, nil
}

func checkLimit(field string, v *int) error {
	if v != nil && *v < 0 {
		return fmt.Errorf("%s: %w", field, ErrInvalidLimit)
	}
	return nil
}

// ParseExpiration parses an optional expiry into canonical form. An empty
// string means no expiry.
func ParseExpiration(raw string) (*model.Timestamp, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	ts, err := model.ParseTimestamp(raw)
	if err != nil {
		return nil, ErrInvalidExpiration
	}
	return &ts, nil
}

func (s KeySettings) validate() (total, daily *int, expires *model.Timestamp, err error) {
	if err := checkLimit("totalLimit", s.TotalLimit); err != nil {
		return nil, nil, nil, err
	}
	if err := checkLimit("dailyLimit", s.DailyLimit); err != nil {
		return nil, nil, nil, err
	}
	expires, err = ParseExpiration(s.ExpiresAt)
	if err != nil {
		return nil, nil, nil, err
	}
	return copyInt(s.TotalLimit), copyInt(s.DailyLimit), expires, nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func (r *KeyRegistry) generateSecret() (string, error) {
	buf := make([]byte, keySecretBytes)
	if _, err := io.ReadFull(r.rand, buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create registers a new key and returns it with the full secret. This is
// the only call that returns the secret besides GetByID.
func (r *KeyRegistry) Create(ctx context.Context, id string, settings KeySettings) (*model.ManagedAPIKey, error) {
	id = NormalizeKeyID(id)
	if err := ValidateKeyID(id); err != nil {
		return nil, err
	}

	var created *model.ManagedAPIKey
	err := r.keys.Update(ctx, func(keys []model.ManagedAPIKey) ([]model.ManagedAPIKey, error) {
		for _, k := range keys {
			if k.ID == id {
				return nil, ErrDuplicateID
			}
		}
		total, daily, expires, err := settings.validate()
		if err != nil {
			return nil, err
		}
		secret, err := r.generateSecret()
		if err != nil {
			return nil, err
		}
		created = &model.ManagedAPIKey{
			ID:         id,
			Key:        secret,
			CreatedAt:  model.NewTimestamp(r.now()),
			TotalLimit: total,
			DailyLimit: daily,
			ExpiresAt:  expires,
		}
		return append(keys, *created), nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// MaskSecret shows the first and last four characters of a secret, or only
// asterisks when it is eight characters or shorter.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", max(1, len(secret)))
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// List returns every key with its secret masked.
func (r *KeyRegistry) List(ctx context.Context) ([]model.ManagedAPIKeyListItem, error) {
	keys, err := r.keys.Read(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]model.ManagedAPIKeyListItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, model.ManagedAPIKeyListItem{
			ID:         k.ID,
			Prefix:     MaskSecret(k.Key),
			CreatedAt:  k.CreatedAt,
			TotalLimit: k.TotalLimit,
			DailyLimit: k.DailyLimit,
			ExpiresAt:  k.ExpiresAt,
		})
	}
	return items, nil
}

// GetByID returns the key with id, or ErrKeyNotFound.
func (r *KeyRegistry) GetByID(ctx context.Context, id string) (*model.ManagedAPIKey, error) {
	id = NormalizeKeyID(id)
	keys, err := r.keys.Read(ctx)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if keys[i].ID == id {
			return &keys[i], nil
		}
	}
	return nil, ErrKeyNotFound
}

// GetByToken returns the key whose secret equals token, or ErrKeyNotFound.
func (r *KeyRegistry) GetByToken(ctx context.Context, token string) (*model.ManagedAPIKey, error) {
	if token == "" {
		return nil, ErrKeyNotFound
	}
	keys, err := r.keys.Read(ctx)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		if keys[i].Key == token {
			return &keys[i], nil
		}
	}
	return nil, ErrKeyNotFound
}

// UpdateSettings replaces the limits and expiry of a key. The id, secret
// and creation time are never changed.
func (r *KeyRegistry) UpdateSettings(ctx context.Context, id string, settings KeySettings) (*model.ManagedAPIKey, error) {
	id = NormalizeKeyID(id)
	total, daily, expires, err := settings.validate()
	if err != nil {
		return nil, err
	}

	var updated *model.ManagedAPIKey
	err = r.keys.Update(ctx, func(keys []model.ManagedAPIKey) ([]model.ManagedAPIKey, error) {
		for i := range keys {
			if keys[i].ID != id {
				continue
			}
			keys[i].TotalLimit = total
			keys[i].DailyLimit = daily
			keys[i].ExpiresAt = expires
			k := keys[i]
			updated = &k
			return keys, nil
		}
		return nil, ErrKeyNotFound
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the key with id and reports whether one was removed.
func (r *KeyRegistry) Delete(ctx context.Context, id string) (bool, error) {
	id = NormalizeKeyID(id)
	removed := false
	err := r.keys.Update(ctx, func(keys []model.ManagedAPIKey) ([]model.ManagedAPIKey, error) {
		next := keys[:0]
		for _, k := range keys {
			if k.ID == id {
				removed = true
				continue
			}
			next = append(next, k)
		}
		if !removed {
			return nil, store.ErrNoChange
		}
		return next, nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Count returns the number of managed keys.
func (r *KeyRegistry) Count(ctx context.Context) (int, error) {
	keys, err := r.keys.Read(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Tokens returns the deduplicated union of static tokens and managed
// secrets, static tokens first.
func (r *KeyRegistry) Tokens(ctx context.Context) ([]string, error) {
	keys, err := r.keys.Read(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(r.static)+len(keys))
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range r.static {
		add(t)
	}
	for _, k := range keys {
		add(k.Key)
	}
	return out, nil
}

// Ensure creates the keys collection if absent.
func (r *KeyRegistry) Ensure(ctx context.Context) error {
	return r.keys.Ensure(ctx)
}
