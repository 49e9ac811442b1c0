package models

import "time"

// Credential holds one owner's tokens for an external platform.
// Mutated in place on every refresh. RefreshExpiry is tracked separately
// because the platform does not always return one; when absent it is
// derived from CreatedAt plus a policy duration.
type Credential struct {
	OwnerID       string    `dynamodbav:"owner_id" msgpack:"owner_id"`
	Platform      string    `dynamodbav:"platform" msgpack:"platform"`
	AccessToken   string    `dynamodbav:"access_token" msgpack:"access_token"`
	AccessExpiry  time.Time `dynamodbav:"access_expiry" msgpack:"access_expiry"`
	RefreshToken  string    `dynamodbav:"refresh_token" msgpack:"refresh_token"`
	RefreshExpiry time.Time `dynamodbav:"refresh_expiry" msgpack:"refresh_expiry"`
	CreatedAt     time.Time `dynamodbav:"created_at" msgpack:"created_at"`
	UpdatedAt     time.Time `dynamodbav:"updated_at" msgpack:"updated_at"`
}

// AccessValid reports whether the access token is still usable at now,
// keeping a safety buffer so tokens are refreshed before they expire
// mid-request upstream.
func (c *Credential) AccessValid(now time.Time, buffer time.Duration) bool {
	return c.AccessToken != "" && now.Add(buffer).Before(c.AccessExpiry)
}

// RefreshUsable reports whether the refresh token is within its policy
// lifetime.
func (c *Credential) RefreshUsable(now time.Time) bool {
	return c.RefreshToken != "" && now.Before(c.RefreshExpiry)
}
