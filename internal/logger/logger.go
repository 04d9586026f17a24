package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log *zap.Logger
	mu  sync.RWMutex
)

// Init builds the global logger for env. Production logs are JSON; anything
// else uses the colored development console encoder.
func Init(env string) {
	var cfg zap.Config

	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.MessageKey = "message"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if os.Getenv("EASYSWITCH_DEBUG") == "true" {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	built, err := cfg.Build(zap.AddCaller())
	if err != nil {
		panic(err)
	}
	Set(built)
}

// Set replaces the global logger. Tests use it to install an observer.
func Set(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

// L returns the global logger, initialising it from APP_ENV on first use.
func L() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		Init(os.Getenv("APP_ENV"))
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

// Sync flushes logs.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
