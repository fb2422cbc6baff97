package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is replaced by Init; until then it discards everything so packages can
// log from tests without setup.
var Log = zap.NewNop()

type FileOptions struct {
	Path      string
	MaxSizeMB int
}

func Init(debug bool, file FileOptions) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}

	if file.Path != "" {
		maxSize := file.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}

		rotator := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    maxSize,
			MaxBackups: 3,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			level))
	}

	opts := []zap.Option{zap.AddCaller()}
	if debug {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	Log = zap.New(zapcore.NewTee(cores...), opts...)
}

func Sync() {
	_ = Log.Sync()
}
