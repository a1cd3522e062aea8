package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Config controls level, format and destination of the process logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output string // stdout, stderr, file path
}

// Logger wraps logrus with fleet-domain field helpers so call sites log
// structured fields instead of interpolating strings.
type Logger struct {
	*logrus.Logger
}

func NewLogger(config Config) *Logger {
	log := logrus.New()

	switch config.Level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	if config.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch config.Output {
	case "stdout":
		log.SetOutput(os.Stdout)
	case "stderr":
		log.SetOutput(os.Stderr)
	default:
		if config.Output != "" {
			if file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666); err == nil {
				log.SetOutput(file)
			} else {
				log.SetOutput(os.Stdout)
				log.WithError(err).Warn("failed to open log file, using stdout")
			}
		} else {
			log.SetOutput(os.Stdout)
		}
	}

	return &Logger{Logger: log}
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

// RequestLogger carries the fields an HTTP access-log line needs.
func (l *Logger) RequestLogger(method, path, clientIP string, statusCode int, latency string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"client_ip":   clientIP,
		"status_code": statusCode,
		"latency":     latency,
		"type":        "request",
	})
}

// DroneLogger carries the fields common to per-drone state/telemetry lines.
func (l *Logger) DroneLogger(droneID string, status string, battery int) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"drone_id": droneID,
		"status":   status,
		"battery":  battery,
		"type":     "drone",
	})
}

// TaskLogger carries the fields for supervisor task lifecycle lines.
func (l *Logger) TaskLogger(taskID string, droneID string, kind string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"task_id":  taskID,
		"drone_id": droneID,
		"kind":     kind,
		"type":     "task",
	})
}

// SafetyLogger carries the fields for a recorded SafetyViolation.
func (l *Logger) SafetyLogger(droneID string, kind string, severity string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"drone_id": droneID,
		"kind":     kind,
		"severity": severity,
		"type":     "safety",
	})
}

// SecurityLogger carries the fields for auth/security-relevant lines.
func (l *Logger) SecurityLogger(principal string, action string, resource string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"principal": principal,
		"action":    action,
		"resource":  resource,
		"type":      "security",
	})
}

// RouterLogger carries the fields for command-router execution lines.
func (l *Logger) RouterLogger(action string, droneID string, attempt int) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"action":   action,
		"drone_id": droneID,
		"attempt":  attempt,
		"type":     "router",
	})
}
