package models

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/keyfold/keyfold/internal/vault"
	"gorm.io/gorm"
)

// Account is one stored credential: a username/password pair for some
// site, owned by exactly one user. Password is never stored in clear;
// it holds the base64 AES-GCM blob produced by the owner's vault key.
type Account struct {
	ID                 uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Username           string    `json:"username" gorm:"not null"` // label of the stored credential, not the owner's username
	Password           string    `json:"-" gorm:"type:text"`       // encrypted
	URL                string    `json:"url" gorm:"not null"`
	Notes              string    `json:"notes"`
	Icon               string    `json:"icon"` // manual icon URL, overrides the cached favicon
	Favicon            []byte    `json:"-" gorm:"type:bytea"`
	FaviconContentType string    `json:"-"`
	CreatedAt          time.Time `json:"createdAt" gorm:"autoCreateTime;index"`
	AuthorID           uuid.UUID `json:"author" gorm:"type:uuid;index;not null"`
	Author             User      `json:"-" gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// SetPassword encrypts plain under the owner's key and replaces the
// stored ciphertext. The owner must be set first: the key is derived
// from the owner's identity, not the caller's.
func (a *Account) SetPassword(v *vault.Vault, plain string) error {
	enc, err := v.EncryptFor(a.AuthorID, plain)
	if err != nil {
		return err
	}
	a.Password = enc
	return nil
}

// GetPassword decrypts the stored ciphertext with the owner's key.
// An account whose password was never set returns "".
func (a *Account) GetPassword(v *vault.Vault) (string, error) {
	return v.DecryptFor(a.AuthorID, a.Password)
}

// SetFavicon stores fetched favicon bytes and their MIME type. The two
// fields travel together; passing empty data clears both.
func (a *Account) SetFavicon(data []byte, contentType string) {
	if len(data) == 0 || contentType == "" {
		a.Favicon = nil
		a.FaviconContentType = ""
		return
	}
	a.Favicon = data
	a.FaviconContentType = contentType
}

// FaviconURL resolves the display icon: the manual icon URL wins, then
// the cached favicon as a data URI, else "".
func (a *Account) FaviconURL() string {
	if a.Icon != "" {
		return a.Icon
	}
	if len(a.Favicon) > 0 && a.FaviconContentType != "" {
		return fmt.Sprintf("data:%s;base64,%s", a.FaviconContentType, base64.StdEncoding.EncodeToString(a.Favicon))
	}
	return ""
}
