package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

// New creates a new logger instance
func New(level string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// WithFields creates a new logger entry with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithComponent creates a new logger entry with a component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// WithPrincipal creates a new logger entry carrying the acting principal
func (l *Logger) WithPrincipal(principal string) *logrus.Entry {
	return l.Logger.WithField("principal", principal)
}

// Audit logs audit events with structured format
func (l *Logger) Audit(principal, action, resource string, success bool, details map[string]interface{}) {
	entry := l.Logger.WithFields(logrus.Fields{
		"audit":     true,
		"principal": principal,
		"action":    action,
		"resource":  resource,
		"success":   success,
		"details":   details,
	})

	if success {
		entry.Info("Audit event")
	} else {
		entry.Warn("Audit event failed")
	}
}

// Decision logs the outcome of an authorization decision. Denials are
// logged at warn level with the machine reason so operators can trace
// refused operations without enabling debug logging.
func (l *Logger) Decision(principal, operation string, recordID uint64, allowed bool, reason string) {
	entry := l.Logger.WithFields(logrus.Fields{
		"authz":     true,
		"principal": principal,
		"operation": operation,
		"record_id": recordID,
		"allowed":   allowed,
	})

	if allowed {
		entry.Debug("Access allowed")
	} else {
		entry.WithField("reason", reason).Warn("Access denied")
	}
}

// Security logs security-related events
func (l *Logger) Security(event string, principal string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"security":  true,
		"event":     event,
		"principal": principal,
		"details":   details,
	}).Warn("Security event")
}

// HTTPRequest logs HTTP request events
func (l *Logger) HTTPRequest(method, path, clientIP string, statusCode int, durationMs int64) {
	entry := l.Logger.WithFields(logrus.Fields{
		"http_request": true,
		"method":       method,
		"path":         path,
		"client_ip":    clientIP,
		"status_code":  statusCode,
		"duration_ms":  durationMs,
	})

	if statusCode >= 400 {
		entry.Warn("HTTP request completed with error")
	} else {
		entry.Info("HTTP request completed")
	}
}
