package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger represents the application logger
type Logger struct {
	*logrus.Logger
	config LogConfig
}

// LogConfig contains logger configuration
type LogConfig struct {
	Level       string
	Format      string // "json" or "text"
	LogToFile   bool
	LogFilePath string
}

// NewLogger creates a new logger instance
func NewLogger(config LogConfig) (*Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	switch strings.ToLower(config.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			ForceColors:     true,
			DisableQuote:    true,
		})
	default:
		log.SetFormatter(&CustomFormatter{})
	}

	if config.LogToFile && config.LogFilePath != "" {
		logDir := filepath.Dir(config.LogFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	return &Logger{
		Logger: log,
		config: config,
	}, nil
}

// CustomFormatter provides a clean, timestamped format for console output
type CustomFormatter struct{}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05.000")
	level := strings.ToUpper(entry.Level.String())

	var levelColor string
	switch entry.Level {
	case logrus.DebugLevel:
		levelColor = "\033[36m" // Cyan
	case logrus.InfoLevel:
		levelColor = "\033[32m" // Green
	case logrus.WarnLevel:
		levelColor = "\033[33m" // Yellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelColor = "\033[31m" // Red
	default:
		levelColor = "\033[0m"
	}
	resetColor := "\033[0m"

	msg := fmt.Sprintf("%s [%s%s%s] %s",
		timestamp,
		levelColor,
		level,
		resetColor,
		entry.Message)

	if len(entry.Data) > 0 {
		msg += " |"
		for key, value := range entry.Data {
			msg += fmt.Sprintf(" %s=%v", key, value)
		}
	}

	msg += "\n"
	return []byte(msg), nil
}

// WithComponent returns a logger with component context
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, network, strategy string, providers int) {
	l.WithFields(logrus.Fields{
		"event":     "startup",
		"version":   version,
		"network":   network,
		"strategy":  strategy,
		"providers": providers,
	}).Info("Router starting up")
}

// LogShutdown logs application shutdown information
func (l *Logger) LogShutdown(reason string) {
	l.WithFields(logrus.Fields{
		"event":  "shutdown",
		"reason": reason,
	}).Info("Router shutting down")
}

// LogProviderStatus logs one provider's current standing
func (l *Logger) LogProviderStatus(name, health string, requests, failures int64, avgLatencyMs int64) {
	l.WithFields(logrus.Fields{
		"event":          "provider_status",
		"provider":       name,
		"health":         health,
		"total_requests": requests,
		"total_failures": failures,
		"avg_latency_ms": avgLatencyMs,
	}).Info("Provider status")
}

// LogSwapAttempt logs when a swap is initiated
func (l *Logger) LogSwapAttempt(inputMint, outputMint string, amount uint64) {
	l.WithFields(logrus.Fields{
		"event":       "swap_attempt",
		"input_mint":  inputMint,
		"output_mint": outputMint,
		"amount":      amount,
	}).Info("Swap attempt initiated")
}

// LogSwapSuccess logs when a swap confirms
func (l *Logger) LogSwapSuccess(inputMint, outputMint string, inAmount, outAmount uint64, signature string) {
	l.WithFields(logrus.Fields{
		"event":       "swap_success",
		"input_mint":  inputMint,
		"output_mint": outputMint,
		"in_amount":   inAmount,
		"out_amount":  outAmount,
		"signature":   signature,
	}).Info("Swap confirmed")
}

// LogSwapError logs when a swap fails
func (l *Logger) LogSwapError(inputMint, outputMint string, amount uint64, err error) {
	l.WithFields(logrus.Fields{
		"event":       "swap_error",
		"input_mint":  inputMint,
		"output_mint": outputMint,
		"amount":      amount,
	}).WithError(err).Error("Swap failed")
}

// LogLatency logs operation latency
func (l *Logger) LogLatency(operation string, duration time.Duration) {
	l.WithFields(logrus.Fields{
		"event":     "latency",
		"operation": operation,
		"duration":  duration.Milliseconds(),
		"unit":      "ms",
	}).Debug("Operation latency")
}
