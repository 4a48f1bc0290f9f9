package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level  = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	logger *zap.SugaredLogger
)

func init() {
	logger = NewLogger(level)
}

func GetLogger() *zap.SugaredLogger {
	return logger
}

// SetVerbosity maps the -v and -d flags onto the shared logger level.
func SetVerbosity(verbose, debug bool) {
	switch {
	case debug:
		level.SetLevel(zapcore.DebugLevel)
	case verbose:
		level.SetLevel(zapcore.InfoLevel)
	default:
		level.SetLevel(zapcore.WarnLevel)
	}
}

func NewLogger(lvl zap.AtomicLevel) *zap.SugaredLogger {
	cfg := zap.Config{
		Level:    lvl,
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:  "msg",
			LevelKey:    "level",
			TimeKey:     "time",
			NameKey:     "name",
			EncodeLevel: zapcore.CapitalLevelEncoder,
			EncodeTime:  zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
			EncodeName:  zapcore.FullNameEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}
