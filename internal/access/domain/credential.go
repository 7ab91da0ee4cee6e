package domain

import "time"

// Credential models one provider's OAuth grant as persisted in the encrypted
// credential file. Replacement is atomic: a refresh swaps the whole record,
// never individual fields.
type Credential struct {
	Provider     string `json:"provider"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"` // epoch milliseconds
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	CompanyID    string `json:"company_id,omitempty"`
	CreatedAt    int64  `json:"created_at"` // epoch milliseconds
}

// ExpiryTime returns ExpiresAt as a time.Time.
func (c Credential) ExpiryTime() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

// FreshUntil reports whether the access token is still usable at now with the
// given safety buffer before actual expiry.
func (c Credential) FreshUntil(now time.Time, buffer time.Duration) bool {
	return c.AccessToken != "" && now.Before(c.ExpiryTime().Add(-buffer))
}

// CanRefresh reports whether the credential can be silently renewed. A
// credential without a refresh token requires re-authorization out of band.
func (c Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}
