package logger

import (
	"fmt"
	"os"
	"time"

	"compliance-core/internal/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger interface defines logging methods
type Logger interface {
	Debug(message string, fields map[string]interface{})
	Info(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Error(message string, err error, fields map[string]interface{})
	Fatal(message string, err error, fields map[string]interface{})
}

// logger implements the Logger interface on top of zap
type logger struct {
	zl *zap.Logger
}

// New creates a new logger instance
func New(cfg config.LoggingConfig) (Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var sink zapcore.WriteSyncer
	switch cfg.Output {
	case "", "stdout":
		sink = zapcore.Lock(os.Stdout)
	case "stderr":
		sink = zapcore.Lock(os.Stderr)
	default:
		// File output is rotated
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	core := zapcore.NewCore(encoder, sink, level)
	return &logger{
		zl: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
	}, nil
}

// NewNop returns a logger that discards everything
func NewNop() Logger {
	return &logger{zl: zap.NewNop()}
}

// FromZap wraps an existing zap logger
func FromZap(zl *zap.Logger) Logger {
	return &logger{zl: zl}
}

// Debug logs debug level messages
func (l *logger) Debug(message string, fields map[string]interface{}) {
	l.zl.Debug(message, toZapFields(nil, fields)...)
}

// Info logs info level messages
func (l *logger) Info(message string, fields map[string]interface{}) {
	l.zl.Info(message, toZapFields(nil, fields)...)
}

// Warn logs warning level messages
func (l *logger) Warn(message string, fields map[string]interface{}) {
	l.zl.Warn(message, toZapFields(nil, fields)...)
}

// Error logs error level messages
func (l *logger) Error(message string, err error, fields map[string]interface{}) {
	l.zl.Error(message, toZapFields(err, fields)...)
}

// Fatal logs fatal level messages and exits
func (l *logger) Fatal(message string, err error, fields map[string]interface{}) {
	l.zl.Fatal(message, toZapFields(err, fields)...)
}

func toZapFields(err error, fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// GinMiddleware returns a Gin middleware for logging HTTP requests
func GinMiddleware(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency":    latency.String(),
			"ip":         c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}

		if raw != "" {
			fields["query"] = raw
		}
		if tenantID, ok := c.Get("tenant_id"); ok {
			fields["tenant_id"] = tenantID
		}

		status := c.Writer.Status()
		message := fmt.Sprintf("%s %s", c.Request.Method, path)

		switch {
		case status >= 500:
			logger.Error(message, nil, fields)
		case status >= 400:
			logger.Warn(message, fields)
		default:
			logger.Info(message, fields)
		}
	}
}
