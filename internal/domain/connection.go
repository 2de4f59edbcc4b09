package domain

import "time"

// Connection is a business's linked account on one platform.
type Connection struct {
	ID             int64      `db:"id" json:"id"`
	BusinessID     string     `db:"business_id" json:"businessId"`
	Platform       Channel    `db:"platform" json:"platform"`
	PlatformUserID string     `db:"platform_user_id" json:"platformUserId"`
	AccessToken    string     `db:"access_token" json:"-"`
	RefreshToken   *string    `db:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time `db:"token_expires_at" json:"tokenExpiresAt,omitempty"`
	Metadata       JSONMap    `db:"metadata" json:"metadata,omitempty"`
	IsActive       bool       `db:"is_active" json:"isActive"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

const MetadataPhoneNumberID = "phone_number_id"

func (c *Connection) PhoneNumberID() string {
	return c.Metadata.String(MetadataPhoneNumberID)
}

// TokenExpired reports whether the stored access token must be refreshed
// before use. Tokens without an expiry never expire.
func (c *Connection) TokenExpired(now time.Time) bool {
	if c.TokenExpiresAt == nil {
		return false
	}
	return !c.TokenExpiresAt.After(now)
}

// TokenSet is the result of a provider refresh call.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}
