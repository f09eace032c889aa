// SPDX-License-Identifier: ice License 1.0

package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// Log is usable before Init: it logs nothing until Init replaces it.
var Log = zap.NewNop().Sugar()

var initOnce sync.Once

// Init installs the process logger. Only the first call has an effect.
func Init(cfg *Config) {
	initOnce.Do(func() {
		Log = New(cfg).Sugar()
		zap.ReplaceGlobals(Log.Desugar())
	})
}

func New(cfg *Config) *zap.Logger {
	level := zapcore.InfoLevel
	if cfg != nil && cfg.Debug {
		level = zapcore.DebugLevel
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level)

	return zap.New(core, zap.AddCaller())
}

func Sync() {
	_ = Log.Sync() //nolint:errcheck // Stderr sync fails on some terminals.
}
