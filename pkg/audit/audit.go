// Package audit records authentication-relevant events for security review.
//
// Every login, refresh, logout and account change is written as a Record to
// a Store. Records expire 90 days after creation. Writes are best-effort:
// Logger.Record never returns an error, a failed write is logged and counted
// and the operation being described carries on unchanged.
//
// Records can additionally be mirrored as JSON lines to a file (the
// "audit.log_path" setting), which is convenient for shipping to a SIEM.
//
// Example Usage:
//
//	logger, err := audit.NewLogger(store, audit.DefaultConfig(), slog.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logger.Close()
//
//	logger.Record(ctx, audit.Entry{
//		Action:    audit.ActionLoginFailed,
//		Email:     "admin@example.com",
//		Status:    audit.StatusFailed,
//		IPAddress: "203.0.113.7",
//		Reason:    "invalid password",
//	})
//
//	recent, _ := logger.Query(ctx, audit.Query{Email: "admin@example.com", Limit: 20})
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/orneryd/storefront/pkg/metrics"
)

// RetentionPeriod is how long a record is kept before it is purged.
const RetentionPeriod = 90 * 24 * time.Hour

// Action is the kind of event being recorded.
type Action string

const (
	ActionLoginAttempt       Action = "login_attempt"
	ActionLoginSuccess       Action = "login_success"
	ActionLoginFailed        Action = "login_failed"
	ActionLoginBlocked       Action = "login_blocked"
	ActionLogout             Action = "logout"
	ActionTokenRefresh       Action = "token_refresh"
	ActionTokenRefreshFailed Action = "token_refresh_failed"
	ActionOAuthLogin         Action = "oauth_login"
	ActionOAuthLoginFailed   Action = "oauth_login_failed"
	ActionAccountCreated     Action = "account_created"
	ActionAccountUpdated     Action = "account_updated"
	ActionAccountUnlocked    Action = "account_unlocked"
	ActionPasswordChanged    Action = "password_changed"
	ActionAccessDenied       Action = "access_denied"
)

var validActions = map[Action]struct{}{
	ActionLoginAttempt: {}, ActionLoginSuccess: {}, ActionLoginFailed: {},
	ActionLoginBlocked: {}, ActionLogout: {}, ActionTokenRefresh: {},
	ActionTokenRefreshFailed: {}, ActionOAuthLogin: {}, ActionOAuthLoginFailed: {},
	ActionAccountCreated: {}, ActionAccountUpdated: {}, ActionAccountUnlocked: {},
	ActionPasswordChanged: {}, ActionAccessDenied: {},
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	_, ok := validActions[a]
	return ok
}

// Status is the outcome of the recorded event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// Record is a persisted audit entry.
type Record struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	Email     string    `json:"email,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Entry is the caller-supplied part of a Record.
type Entry struct {
	Action    Action
	Email     string
	Status    Status
	IPAddress string
	UserAgent string
	Reason    string
}

// Store persists audit records. Implementations must honor ExpiresAt and
// return Query results newest first.
type Store interface {
	AppendAudit(ctx context.Context, rec *Record) error
	QueryAudit(ctx context.Context, q Query) ([]Record, error)
}

// Query filters audit records. Zero-valued fields do not filter.
type Query struct {
	Email     string
	IPAddress string
	Action    Action
	Status    Status
	Since     time.Time
	Until     time.Time
	Limit     int
}

// DefaultQueryLimit caps queries that do not set Limit.
const DefaultQueryLimit = 100

// MaxQueryLimit is the largest Limit a query may request.
const MaxQueryLimit = 1000

// Normalize lower-cases the email filter and clamps Limit.
func (q Query) Normalize() Query {
	q.Email = strings.ToLower(strings.TrimSpace(q.Email))
	q.IPAddress = strings.TrimSpace(q.IPAddress)
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	return q
}

// Matches reports whether rec satisfies every set filter.
func (q Query) Matches(rec *Record) bool {
	if q.Email != "" && rec.Email != q.Email {
		return false
	}
	if q.IPAddress != "" && rec.IPAddress != q.IPAddress {
		return false
	}
	if q.Action != "" && rec.Action != q.Action {
		return false
	}
	if q.Status != "" && rec.Status != q.Status {
		return false
	}
	if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && rec.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// Config holds audit logging configuration.
type Config struct {
	// Enabled turns recording on. A disabled logger accepts and drops entries.
	Enabled bool

	// Retention is how long records live. Defaults to RetentionPeriod.
	Retention time.Duration

	// MirrorPath, when set, receives every record as a JSON line.
	MirrorPath string

	// SyncWrites fsyncs the mirror file after each record.
	SyncWrites bool

	// AlertOn lists actions that trigger the alert callback.
	AlertOn []Action
}

// DefaultConfig returns a config that records to the store only.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Retention: RetentionPeriod,
		AlertOn:   []Action{ActionLoginBlocked},
	}
}

// Logger writes audit records to a Store and an optional mirror.
// It is safe for concurrent use.
type Logger struct {
	store  Store
	config Config
	log    *slog.Logger

	mu     sync.Mutex
	mirror io.Writer
	file   *os.File
	closed bool

	alertCallback func(Record)
	now           func() time.Time
}

// NewLogger creates a Logger over store. When config.MirrorPath is set the
// file is created (with its directory) and opened for appending.
func NewLogger(store Store, config Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Retention <= 0 {
		config.Retention = RetentionPeriod
	}
	l := &Logger{
		store:  store,
		config: config,
		log:    logger.With(slog.String("component", "audit")),
		now:    time.Now,
	}
	if !config.Enabled || config.MirrorPath == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.MirrorPath), 0750); err != nil {
		return nil, fmt.Errorf("creating audit mirror directory: %w", err)
	}
	file, err := os.OpenFile(config.MirrorPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("opening audit mirror: %w", err)
	}
	l.mirror = file
	l.file = file
	return l, nil
}

// NewLoggerWithWriter creates a Logger that mirrors to w instead of a file.
func NewLoggerWithWriter(store Store, w io.Writer, config Config, logger *slog.Logger) *Logger {
	l, _ := NewLogger(store, Config{
		Enabled:    config.Enabled,
		Retention:  config.Retention,
		SyncWrites: false,
		AlertOn:    config.AlertOn,
	}, logger)
	l.mirror = w
	return l
}

// SetAlertCallback registers fn to be called for actions listed in
// Config.AlertOn. fn runs synchronously on the recording goroutine.
func (l *Logger) SetAlertCallback(fn func(Record)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alertCallback = fn
}

// Record writes e. It never fails from the caller's point of view.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if l == nil || !l.config.Enabled {
		return
	}

	now := l.now().UTC()
	rec := &Record{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Action:    e.Action,
		Email:     strings.ToLower(strings.TrimSpace(e.Email)),
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		Status:    e.Status,
		Reason:    e.Reason,
		Timestamp: now,
		ExpiresAt: now.Add(l.config.Retention),
	}

	if l.store != nil {
		if err := l.store.AppendAudit(ctx, rec); err != nil {
			metrics.AuditWriteFailures.Inc()
			l.log.Error("audit write failed",
				slog.String("action", string(rec.Action)),
				slog.String("email", rec.Email),
				slog.String("error", err.Error()),
			)
		}
	}

	l.writeMirror(rec)
	l.alert(rec)
}

func (l *Logger) writeMirror(rec *Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.mirror == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		l.log.Error("audit mirror marshal failed", slog.String("error", err.Error()))
		return
	}
	if _, err := l.mirror.Write(append(data, '\n')); err != nil {
		l.log.Error("audit mirror write failed", slog.String("error", err.Error()))
		return
	}
	if l.config.SyncWrites && l.file != nil {
		if err := l.file.Sync(); err != nil {
			l.log.Error("audit mirror sync failed", slog.String("error", err.Error()))
		}
	}
}

func (l *Logger) alert(rec *Record) {
	l.mu.Lock()
	fn := l.alertCallback
	l.mu.Unlock()
	if fn == nil {
		return
	}
	for _, a := range l.config.AlertOn {
		if rec.Action == a {
			fn(*rec)
			return
		}
	}
}

// Query returns records matching q, newest first.
func (l *Logger) Query(ctx context.Context, q Query) ([]Record, error) {
	if l.store == nil {
		return nil, nil
	}
	return l.store.QueryAudit(ctx, q.Normalize())
}

// Close closes the mirror file, if any. Records after Close still reach the
// store.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
