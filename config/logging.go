package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/js-runtime/errors"
)

// NewLogger builds a zap logger from the logging section. Production
// loggers write JSON to stderr; development loggers write colored console
// output.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       c.Logging.Development,
		Encoding:          "json",
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !c.Logging.Development,
	}
	if c.Logging.Development {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zcfg.Build()
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return level, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "logging level")
	}
	return level, nil
}
