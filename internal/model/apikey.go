package model

// ManagedAPIKey is an operator-issued credential for gateway consumers.
// The Key field holds the full bearer secret and is only ever returned to
// the caller that created the key or to an admin copy action.
type ManagedAPIKey struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	CreatedAt  Timestamp  `json:"createdAt"`
	TotalLimit *int       `json:"totalLimit"`
	DailyLimit *int       `json:"dailyLimit"`
	ExpiresAt  *Timestamp `json:"expiresAt"`
}

// Expired reports whether the key carries an expiry at or before now.
func (k *ManagedAPIKey) Expired(now Timestamp) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now.Time)
}

// ManagedAPIKeyListItem is the listing view of a key. The secret is masked.
type ManagedAPIKeyListItem struct {
	ID         string     `json:"id"`
	Prefix     string     `json:"prefix"`
	CreatedAt  Timestamp  `json:"createdAt"`
	TotalLimit *int       `json:"totalLimit"`
	DailyLimit *int       `json:"dailyLimit"`
	ExpiresAt  *Timestamp `json:"expiresAt"`
}
