package custodian

import "time"

// Account holds the encrypted key material for a custodial user. Keys are
// sealed with AES-256-GCM under the custody master key and never leave this
// process unencrypted.
type Account struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	HiveAccount         string    `json:"hive_account"`
	PublicKey           string    `json:"public_key"`
	EncryptedPostingKey []byte    `json:"-"`
	EncryptedActiveKey  []byte    `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
