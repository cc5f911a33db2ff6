package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens (or creates) the auth state database under the given data
// directory and migrates the schema.
func Init(dataPath string) error {
	if err := os.MkdirAll(dataPath, 0700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, "auth.db")

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Setting{}, &Credential{}, &SetupToken{}, &AuthSession{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// InitInMemory opens an in-memory database for tests.
func InitInMemory() error {
	var err error
	DB, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}
	return DB.AutoMigrate(&Setting{}, &Credential{}, &SetupToken{}, &AuthSession{})
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Credential helpers

func GetCredentials() ([]Credential, error) {
	var creds []Credential
	if err := DB.Order("created_at").Find(&creds).Error; err != nil {
		return nil, err
	}
	return creds, nil
}

func GetCredential(id string) (*Credential, error) {
	var c Credential
	if err := DB.Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func SaveCredential(cred *Credential) error {
	return DB.Create(cred).Error
}

func DeleteCredential(id string) error {
	DB.Where("credential_id = ?", id).Delete(&AuthSession{})
	return DB.Where("id = ?", id).Delete(&Credential{}).Error
}

func CredentialCount() (int64, error) {
	var count int64
	err := DB.Model(&Credential{}).Count(&count).Error
	return count, err
}

// UpdateCredentialUse bumps the signature counter and last-used timestamp in
// one write. Callers must have verified monotonicity first.
func UpdateCredentialUse(id string, signCount uint32) error {
	return DB.Model(&Credential{}).Where("id = ?", id).Updates(map[string]interface{}{
		"sign_count":   signCount,
		"last_used_at": time.Now(),
	}).Error
}

// SetupToken helpers

func CreateSetupToken(t *SetupToken) error {
	return DB.Create(t).Error
}

func GetSetupToken(id string) (*SetupToken, error) {
	var t SetupToken
	if err := DB.Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func ListSetupTokens() ([]SetupToken, error) {
	var tokens []SetupToken
	if err := DB.Order("created_at").Find(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

func DeleteSetupToken(id string) error {
	return DB.Where("id = ?", id).Delete(&SetupToken{}).Error
}

// AuthSession helpers

func SaveAuthSession(s *AuthSession) error {
	return DB.Create(s).Error
}

func GetAuthSession(token string) (*AuthSession, error) {
	var s AuthSession
	if err := DB.Where("token = ?", token).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func TouchAuthSession(token string) error {
	return DB.Model(&AuthSession{}).Where("token = ?", token).
		Update("last_activity", time.Now()).Error
}

func DeleteAuthSession(token string) error {
	return DB.Where("token = ?", token).Delete(&AuthSession{}).Error
}

func DeleteAllAuthSessions() error {
	return DB.Where("1 = 1").Delete(&AuthSession{}).Error
}

func DeleteExpiredAuthSessions() error {
	return DB.Where("expires_at < ?", time.Now()).Delete(&AuthSession{}).Error
}
