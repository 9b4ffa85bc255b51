package domain

import "time"

// TokenStorageKey is the key under which the provider credential is cached.
const TokenStorageKey = "access_token"

// TokenRefreshMargin is how long before expiry a credential is treated as stale.
const TokenRefreshMargin = 10 * time.Minute

// Credential is a bearer token issued by the market-data provider.
type Credential struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Stale reports whether the credential expires within TokenRefreshMargin of now.
func (c Credential) Stale(now time.Time) bool {
	return c.AccessToken == "" || c.ExpiresAt.Before(now.Add(TokenRefreshMargin))
}

// Authorization returns the value for an HTTP Authorization header.
func (c Credential) Authorization() string {
	typ := c.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + c.AccessToken
}
