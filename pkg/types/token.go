package types

import "time"

// Identity is the signed-in principal a token is refreshed for
type Identity struct {
	UserID       string `json:"user_id" yaml:"user_id"`
	Email        string `json:"email,omitempty" yaml:"email,omitempty"`
	RefreshToken string `json:"-" yaml:"-"`
}

// Token is an access token issued by the identity provider
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	IssuedAt     time.Time `json:"issued_at"`
}

// ValidFor reports whether the token has an access token that stays valid for at least d.
// Tokens without an expiry are considered valid.
func (t *Token) ValidFor(d time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Until(t.ExpiresAt) > d
}

// ProfileRecord is the user profile document kept in sync with the profile store
type ProfileRecord struct {
	UserID      string            `json:"user_id"`
	DisplayName string            `json:"display_name,omitempty"`
	Email       string            `json:"email,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the record
func (r *ProfileRecord) Clone() *ProfileRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Attributes != nil {
		out.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
	}
	return &out
}
