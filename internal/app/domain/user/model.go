package user

import "time"

// User is a Sportsblock member. Custodial users have no blockchain account of
// their own; the platform holds keys on their behalf.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	HiveAccount  string    `json:"hive_account,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	About        string    `json:"about,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Custodial    bool      `json:"custodial"`
	Role         string    `json:"role,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
