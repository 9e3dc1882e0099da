package ruststore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// Durable Error Log
// ============================================================================

// ErrorFileHook is a logrus hook that appends every Error-or-worse entry to
// a durable log file. The file write happens before (and independent of) any
// callback a failing operation may invoke.
type ErrorFileHook struct {
	mu   sync.Mutex
	file *os.File
}

// NewErrorFileHook opens (or creates) the durable error log at path.
func NewErrorFileHook(path string) (*ErrorFileHook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create error log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	return &ErrorFileHook{file: file}, nil
}

// Levels implements logrus.Hook.
func (h *ErrorFileHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel}
}

// Fire implements logrus.Hook.
func (h *ErrorFileHook) Fire(entry *logrus.Entry) error {
	var sb strings.Builder
	sb.WriteString(entry.Time.Format(time.RFC3339))
	sb.WriteString(" ")
	sb.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, entry.Data[k])
	}
	sb.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.file.WriteString(sb.String())
	return err
}

// Close closes the underlying log file.
func (h *ErrorFileHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

// ============================================================================
// Give Audit Log
// ============================================================================

// AuditLog records one line per give-attempt event (request, confirmation,
// denial) so every entitlement hand-off can be traced after the fact.
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditLog opens (or creates) the give audit log at path.
func NewAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &AuditLog{file: file}, nil
}

// Record appends one formatted line. A nil AuditLog discards the entry, so
// callers never have to branch.
func (a *AuditLog) Record(format string, args ...any) {
	if a == nil {
		return
	}
	line := time.Now().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...) + "\n"

	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.file.WriteString(line)
}

// Close closes the underlying log file.
func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// NewLogger builds the store logger: structured text output plus the durable
// error file hook.
func NewLogger(errorLogPath string) (*logrus.Logger, *ErrorFileHook, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	hook, err := NewErrorFileHook(errorLogPath)
	if err != nil {
		return nil, nil, err
	}
	log.AddHook(hook)

	return log, hook, nil
}
