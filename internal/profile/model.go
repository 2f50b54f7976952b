package profile

import "time"

// Document is the application-owned profile record, keyed 1:1 by the identity
// provider's account id. It is created exactly once per identity — at first
// signup or first OAuth sign-in — and never deleted.
type Document struct {
	ID                string    `bson:"_id"                          json:"id"`
	DisplayName       string    `bson:"display_name,omitempty"       json:"display_name,omitempty"`
	Email             string    `bson:"email,omitempty"              json:"email,omitempty"`
	PhotoURL          string    `bson:"photo_url,omitempty"          json:"photo_url,omitempty"`
	Company           string    `bson:"company,omitempty"            json:"company,omitempty"`
	Phone             string    `bson:"phone,omitempty"              json:"phone,omitempty"`
	WalletAddress     string    `bson:"wallet_address,omitempty"     json:"wallet_address,omitempty"`
	Role              string    `bson:"role,omitempty"               json:"role,omitempty"`
	CreatedAt         time.Time `bson:"created_at,omitempty"         json:"created_at,omitempty"`
	LastLoginAt       time.Time `bson:"last_login_at,omitempty"      json:"last_login_at,omitempty"`
	UpdatedAt         time.Time `bson:"updated_at,omitempty"         json:"updated_at,omitempty"`
	PasswordChangedAt time.Time `bson:"password_changed_at,omitempty" json:"password_changed_at,omitempty"`
}

// Field names accepted by Store.Update. They match the bson keys above.
const (
	FieldDisplayName       = "display_name"
	FieldEmail             = "email"
	FieldPhotoURL          = "photo_url"
	FieldCompany           = "company"
	FieldPhone             = "phone"
	FieldWalletAddress     = "wallet_address"
	FieldRole              = "role"
	FieldLastLoginAt       = "last_login_at"
	FieldUpdatedAt         = "updated_at"
	FieldPasswordChangedAt = "password_changed_at"
)
