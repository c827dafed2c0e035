package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - настройка структурированного логирования (zap)
//
// Назначение:
// Единая точка инициализации логгера для всех компонентов движка.
// JSON формат для production, console для разработки.

// LogConfig - конфигурация логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // режим разработки (stacktrace на warn)
}

// Logger оборачивает zap.Logger, добавляя sugar и доменные helpers
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// parseLevel преобразует строку уровня в zapcore.Level
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger создаёт и настраивает logger
func InitLogger(config LogConfig) *Logger {
	level := parseLevel(config.Level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.ToLower(config.Format) == "text" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	// Вывод: файл или stderr (fallback на stderr при ошибке открытия)
	var sink zapcore.WriteSyncer = zapcore.AddSync(os.Stderr)
	if config.Output != "" {
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{zap.AddCaller()}
	if config.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// With возвращает дочерний логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// Sugar возвращает sugared logger для printf-style логирования
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Доменные helpers для типовых контекстов

// WithComponent помечает логгер именем компонента
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithAccount помечает логгер идентификатором аккаунта
func (l *Logger) WithAccount(accountID string) *Logger {
	return l.With(Account(accountID))
}

// WithSymbol помечает логгер тикером инструмента
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithReqID помечает логгер идентификатором запроса к шлюзу
func (l *Logger) WithReqID(reqID int64) *Logger {
	return l.With(ReqID(reqID))
}

// ============================================================
// Глобальный логгер
// ============================================================

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitGlobalLogger инициализирует глобальный логгер
func InitGlobalLogger(config LogConfig) *Logger {
	logger := InitLogger(config)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер (создаёт по умолчанию при первом вызове)
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()

	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// Глобальные функции логирования

func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { GetGlobalLogger().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { GetGlobalLogger().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { GetGlobalLogger().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { GetGlobalLogger().sugar.Errorf(format, args...) }

// fieldsToInterface конвертирует zap.Field в пары key/value для sugar API
func fieldsToInterface(fields []zap.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Interface)
	}
	return out
}

// ============================================================
// Конструкторы доменных полей
// ============================================================

// Account - идентификатор аккаунта
func Account(accountID string) zap.Field { return zap.String("account", accountID) }

// Symbol - тикер инструмента
func Symbol(symbol string) zap.Field { return zap.String("symbol", symbol) }

// ConID - contract id шлюза
func ConID(conID int64) zap.Field { return zap.Int64("con_id", conID) }

// ReqID - идентификатор запроса к шлюзу
func ReqID(reqID int64) zap.Field { return zap.Int64("req_id", reqID) }

// SecType - тип инструмента
func SecType(secType string) zap.Field { return zap.String("sec_type", secType) }

// Price - цена
func Price(price float64) zap.Field { return zap.Float64("price", price) }

// Quantity - количество
func Quantity(qty float64) zap.Field { return zap.Float64("quantity", qty) }

// Category - категория данных (balance, portfolio, cash)
func Category(category string) zap.Field { return zap.String("category", category) }

// ErrorCode - код ошибки шлюза
func ErrorCode(code int) zap.Field { return zap.Int("error_code", code) }

// Latency - латентность в миллисекундах
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }

// Component - имя компонента
func Component(name string) zap.Field { return zap.String("component", name) }

// Переэкспорт стандартных конструкторов zap для удобства

func String(key, value string) zap.Field        { return zap.String(key, value) }
func Int(key string, value int) zap.Field       { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field   { return zap.Int64(key, value) }
func Float64(key string, value float64) zap.Field { return zap.Float64(key, value) }
func Bool(key string, value bool) zap.Field     { return zap.Bool(key, value) }
func Err(err error) zap.Field                   { return zap.Error(err) }
func Any(key string, value interface{}) zap.Field { return zap.Any(key, value) }
