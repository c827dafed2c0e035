package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Gateway   GatewayConfig
	RefData   RefDataConfig
	RateLimit RateLimitConfig
	Sync      SyncConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// GatewayConfig - настройки подключения к торговому шлюзу
//
// Шлюз - отдельный процесс; на процесс допускается ровно одна сессия
// с уникальным client id. Повторное использование client id другим
// процессом приводит к фатальной ошибке подключения.
type GatewayConfig struct {
	Host     string
	Port     int
	ClientID int

	// Таймаут установки соединения
	ConnectTimeout time.Duration
	// Минимальный интервал между последовательными попытками подключения
	MinConnectInterval time.Duration
	// Интервал keep-alive ping
	KeepAliveInterval time.Duration
	// Простой, после которого сессия разрывается автоматически
	IdleTimeout time.Duration
	// Таймаут одиночного request/response обмена по умолчанию
	RequestTimeout time.Duration
	// Ожидание применения протокольного cancel (у шлюза нет cancel-ack)
	CancelGrace time.Duration
}

// RefDataConfig - настройки провайдера справочных данных (котировки, профили)
type RefDataConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RateLimitConfig - лимиты справочных запросов к шлюзу
type RateLimitConfig struct {
	// Максимум справочных запросов в скользящем окне
	WindowLimit int
	// Длина скользящего окна
	Window time.Duration
	// Минимальный интервал между последовательными запросами
	MinSpacing time.Duration
	// Глобальный cooldown после pacing violation
	Cooldown time.Duration
}

// SyncConfig - настройки цикла синхронизации портфеля
type SyncConfig struct {
	// Интервал фоновой синхронизации
	AutoRefreshInterval time.Duration
	// Таймаут ожидания download complete от подписки
	DownloadTimeout time.Duration
	// Аккаунты для фоновой синхронизации (SYNC_ACCOUNTS, через запятую)
	Accounts []string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// Ключ AES-256 для шифрования API ключа провайдера в БД
	EncryptionKey string
	// bcrypt-хеш токена для защищённых endpoints (пусто = без аутентификации)
	APITokenHash string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "portsync"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Gateway: GatewayConfig{
			Host:               getEnv("GATEWAY_HOST", "127.0.0.1"),
			Port:               getEnvAsInt("GATEWAY_PORT", 7497),
			ClientID:           getEnvAsInt("GATEWAY_CLIENT_ID", 11),
			ConnectTimeout:     getEnvAsDuration("GATEWAY_CONNECT_TIMEOUT", 10*time.Second),
			MinConnectInterval: getEnvAsDuration("GATEWAY_MIN_CONNECT_INTERVAL", 2*time.Second),
			KeepAliveInterval:  getEnvAsDuration("GATEWAY_KEEPALIVE_INTERVAL", 30*time.Second),
			IdleTimeout:        getEnvAsDuration("GATEWAY_IDLE_TIMEOUT", 30*time.Minute),
			RequestTimeout:     getEnvAsDuration("GATEWAY_REQUEST_TIMEOUT", 15*time.Second),
			CancelGrace:        getEnvAsDuration("GATEWAY_CANCEL_GRACE", 500*time.Millisecond),
		},
		RefData: RefDataConfig{
			BaseURL: getEnv("REFDATA_BASE_URL", "https://quotes.example.com/api/v1"),
			APIKey:  getEnv("REFDATA_API_KEY", ""),
			Timeout: getEnvAsDuration("REFDATA_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			WindowLimit: getEnvAsInt("RATE_WINDOW_LIMIT", 50),
			Window:      getEnvAsDuration("RATE_WINDOW", 10*time.Minute),
			MinSpacing:  getEnvAsDuration("RATE_MIN_SPACING", 2*time.Second),
			Cooldown:    getEnvAsDuration("RATE_COOLDOWN", 10*time.Minute),
		},
		Sync: SyncConfig{
			AutoRefreshInterval: getEnvAsDuration("SYNC_AUTO_REFRESH_INTERVAL", 30*time.Minute),
			DownloadTimeout:     getEnvAsDuration("SYNC_DOWNLOAD_TIMEOUT", 60*time.Second),
			Accounts:            getEnvAsList("SYNC_ACCOUNTS"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			APITokenHash:  getEnv("API_TOKEN_HASH", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования API ключа провайдера в БД
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting provider credentials")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("GATEWAY_PORT must be between 1 and 65535, got %d", c.Gateway.Port)
	}

	if c.Gateway.ClientID < 0 {
		return fmt.Errorf("GATEWAY_CLIENT_ID cannot be negative, got %d", c.Gateway.ClientID)
	}

	// Валидация таймаутов (должны быть положительными)
	if c.Gateway.ConnectTimeout <= 0 {
		return fmt.Errorf("GATEWAY_CONNECT_TIMEOUT must be positive, got %v", c.Gateway.ConnectTimeout)
	}

	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("GATEWAY_REQUEST_TIMEOUT must be positive, got %v", c.Gateway.RequestTimeout)
	}

	// Валидация лимитов справочных запросов
	if c.RateLimit.WindowLimit < 1 {
		return fmt.Errorf("RATE_WINDOW_LIMIT must be at least 1, got %d", c.RateLimit.WindowLimit)
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_WINDOW must be positive, got %v", c.RateLimit.Window)
	}

	if c.Sync.AutoRefreshInterval < time.Minute {
		return fmt.Errorf("SYNC_AUTO_REFRESH_INTERVAL must be at least 1m, got %v", c.Sync.AutoRefreshInterval)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// GatewayURL возвращает websocket URL шлюза
func (g GatewayConfig) GatewayURL() string {
	return fmt.Sprintf("ws://%s:%d/api", g.Host, g.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
