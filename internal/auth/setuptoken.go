package auth

import (
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"

	"github.com/shellgate/shellgate/internal/database"
)

const setupTokenKeySetting = "setup_token_key"

// SetupTokenTTL bounds how long an enrollment link stays usable.
const SetupTokenTTL = 24 * time.Hour

// setupTokenKey loads the fernet signing key, generating and persisting one
// on first use.
func setupTokenKey() (*fernet.Key, error) {
	if enc, err := database.GetSetting(setupTokenKeySetting); err == nil {
		return fernet.DecodeKey(enc)
	}
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return nil, fmt.Errorf("generate setup token key: %w", err)
	}
	if err := database.SetSetting(setupTokenKeySetting, key.Encode()); err != nil {
		return nil, fmt.Errorf("persist setup token key: %w", err)
	}
	return &key, nil
}

// MintSetupToken creates a one-time enrollment record and returns the record
// plus the opaque link token (a fernet seal over the record ID).
func (g *Gate) MintSetupToken(displayName string) (*database.SetupToken, string, error) {
	key, err := setupTokenKey()
	if err != nil {
		return nil, "", err
	}

	t := &database.SetupToken{
		ID:          uuid.New().String(),
		DisplayName: displayName,
	}
	if err := database.CreateSetupToken(t); err != nil {
		return nil, "", fmt.Errorf("persist setup token: %w", err)
	}

	sealed, err := fernet.EncryptAndSign([]byte(t.ID), key)
	if err != nil {
		return nil, "", fmt.Errorf("seal setup token: %w", err)
	}
	return t, string(sealed), nil
}

// ResolveSetupToken validates a link token and returns the backing record.
// Expired, forged, or already-consumed tokens all fail.
func (g *Gate) ResolveSetupToken(token string) (*database.SetupToken, error) {
	key, err := setupTokenKey()
	if err != nil {
		return nil, err
	}
	id := fernet.VerifyAndDecrypt([]byte(token), SetupTokenTTL, []*fernet.Key{key})
	if id == nil {
		return nil, fmt.Errorf("invalid setup token")
	}
	return database.GetSetupToken(string(id))
}
