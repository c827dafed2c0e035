package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"portsync/pkg/crypto"
)

// Ошибки репозитория настроек
var (
	ErrSettingNotFound = errors.New("setting not found")
)

// Ключи настроек
const (
	SettingRefDataAPIKey = "refdata_api_key"
)

// SettingsRepository - работа с таблицей settings
//
// Секретные значения (API ключ провайдера) лежат в БД зашифрованными
// AES-256-GCM; ключ шифрования приходит из окружения и в БД не попадает.
type SettingsRepository struct {
	db            *sql.DB
	encryptionKey []byte
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB, encryptionKey []byte) *SettingsRepository {
	return &SettingsRepository{db: db, encryptionKey: encryptionKey}
}

// Get возвращает настройку по ключу
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return value, nil
}

// Set записывает настройку
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, key, value, time.Now())
	return err
}

// GetSecret возвращает расшифрованную секретную настройку
func (r *SettingsRepository) GetSecret(ctx context.Context, key string) (string, error) {
	encrypted, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return crypto.Decrypt(encrypted, r.encryptionKey)
}

// SetSecret шифрует и записывает секретную настройку
func (r *SettingsRepository) SetSecret(ctx context.Context, key, value string) error {
	encrypted, err := crypto.Encrypt(value, r.encryptionKey)
	if err != nil {
		return err
	}
	return r.Set(ctx, key, encrypted)
}
