// Package retention runs the periodic cleanup that enforces data lifetimes.
//
// Audit records live for 90 days. The Badger backend expires them itself
// through entry TTLs, but the value log only shrinks when garbage collection
// runs; the PostgreSQL backend needs an explicit DELETE. Both are expressed
// as a Purger registered for a category, and a Manager sweeps every active,
// un-held category on an interval.
//
// Example Usage:
//
//	manager := retention.NewManager(logger)
//	for _, p := range retention.DefaultPolicies() {
//		_ = manager.AddPolicy(p)
//	}
//	manager.Register(retention.CategoryAudit, retention.PurgerFunc(pg.PurgeExpiredAudit))
//	manager.Register(retention.CategoryStorage, retention.PurgerFunc(func(ctx context.Context, _ time.Time) (int64, error) {
//		return 0, engine.RunGC()
//	}))
//
//	go manager.Run(ctx, time.Hour)
//
// A hold suspends purging for a category, for example while an incident is
// investigated:
//
//	manager.PlaceHold(retention.CategoryAudit, "INC-142 credential stuffing review")
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/metrics"
)

// Errors
var (
	ErrPolicyNotFound = errors.New("retention: policy not found")
	ErrInvalidPolicy  = errors.New("retention: invalid policy configuration")
	ErrAlreadyExists  = errors.New("retention: policy already exists")
)

// Category names a class of data with its own lifetime.
type Category string

const (
	CategoryAudit   Category = "audit"   // authentication audit log
	CategoryStorage Category = "storage" // Badger value log space
)

// Policy sets the lifetime of one category.
type Policy struct {
	ID       string        `json:"id" yaml:"id"`
	Name     string        `json:"name" yaml:"name"`
	Category Category      `json:"category" yaml:"category"`
	Period   time.Duration `json:"period" yaml:"period"`
	// Indefinite keeps data forever; the category is never purged.
	Indefinite  bool   `json:"indefinite" yaml:"indefinite"`
	Active      bool   `json:"active" yaml:"active"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate checks if the policy is valid.
func (p *Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: ID required", ErrInvalidPolicy)
	}
	if p.Category == "" {
		return fmt.Errorf("%w: category required", ErrInvalidPolicy)
	}
	if !p.Indefinite && p.Period <= 0 {
		return fmt.Errorf("%w: retention period required", ErrInvalidPolicy)
	}
	return nil
}

// IsExpired reports whether data created at createdAt is past its lifetime
// at now.
func (p *Policy) IsExpired(createdAt, now time.Time) bool {
	if p.Indefinite {
		return false
	}
	return !now.Before(createdAt.Add(p.Period))
}

// DefaultPolicies returns the built-in policies: audit records for 90 days,
// and storage compaction on every sweep.
func DefaultPolicies() []*Policy {
	return []*Policy{
		{
			ID:          "audit-90d",
			Name:        "Audit Log (90 Days)",
			Category:    CategoryAudit,
			Period:      audit.RetentionPeriod,
			Active:      true,
			Description: "Authentication audit records expire 90 days after they are written",
		},
		{
			ID:          "storage-gc",
			Name:        "Storage Compaction",
			Category:    CategoryStorage,
			Period:      time.Hour,
			Active:      true,
			Description: "Reclaim value log space left by expired and overwritten entries",
		},
	}
}

// Purger removes data of one category that expired at or before now and
// reports how many records went.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// PurgerFunc adapts a function to Purger.
type PurgerFunc func(ctx context.Context, now time.Time) (int64, error)

// Purge calls f.
func (f PurgerFunc) Purge(ctx context.Context, now time.Time) (int64, error) { return f(ctx, now) }

// Hold suspends purging of a category.
type Hold struct {
	Category Category  `json:"category"`
	Reason   string    `json:"reason"`
	PlacedAt time.Time `json:"placedAt"`
}

// Result is the outcome of sweeping one category.
type Result struct {
	Category Category
	Purged   int64
	Skipped  string
	Err      error
}

// Manager holds policies, purgers and holds. All methods are safe for
// concurrent use.
type Manager struct {
	mu       sync.RWMutex
	policies map[Category]*Policy
	purgers  map[Category]Purger
	holds    map[Category]*Hold

	log *slog.Logger
	now func() time.Time
}

// NewManager creates a manager with no policies.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		policies: make(map[Category]*Policy),
		purgers:  make(map[Category]Purger),
		holds:    make(map[Category]*Hold),
		log:      logger.With(slog.String("component", "retention")),
		now:      time.Now,
	}
}

// AddPolicy adds a policy. Each category has at most one.
func (m *Manager) AddPolicy(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.Category]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.Category)
	}
	cp := *p
	m.policies[p.Category] = &cp
	return nil
}

// UpdatePolicy replaces the policy for p.Category.
func (m *Manager) UpdatePolicy(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.Category]; !ok {
		return ErrPolicyNotFound
	}
	cp := *p
	m.policies[p.Category] = &cp
	return nil
}

// GetPolicy returns a copy of the policy for category.
func (m *Manager) GetPolicy(category Category) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[category]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := *p
	return &cp, nil
}

// ListPolicies returns copies of all policies ordered by category.
func (m *Manager) ListPolicies() []*Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Policy, 0, len(m.policies))
	for _, p := range m.policies {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Register sets the purger for category, replacing any earlier one.
func (m *Manager) Register(category Category, p Purger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgers[category] = p
}

// PlaceHold suspends purging of category until ReleaseHold.
func (m *Manager) PlaceHold(category Category, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holds[category] = &Hold{Category: category, Reason: reason, PlacedAt: m.now()}
	m.log.Warn("retention hold placed", slog.String("category", string(category)), slog.String("reason", reason))
}

// ReleaseHold resumes purging of category.
func (m *Manager) ReleaseHold(category Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holds[category]; ok {
		delete(m.holds, category)
		m.log.Info("retention hold released", slog.String("category", string(category)))
	}
}

// IsHeld reports whether category is under a hold.
func (m *Manager) IsHeld(category Category) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.holds[category]
	return ok
}

// Sweep runs every registered purger once. A category without an active,
// finite policy, or under a hold, is skipped. One failing purger does not
// stop the others.
func (m *Manager) Sweep(ctx context.Context) []Result {
	m.mu.RLock()
	categories := make([]Category, 0, len(m.purgers))
	for c := range m.purgers {
		categories = append(categories, c)
	}
	m.mu.RUnlock()
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	now := m.now()
	results := make([]Result, 0, len(categories))
	for _, c := range categories {
		if ctx.Err() != nil {
			break
		}
		results = append(results, m.sweepOne(ctx, c, now))
	}
	return results
}

func (m *Manager) sweepOne(ctx context.Context, c Category, now time.Time) Result {
	m.mu.RLock()
	policy := m.policies[c]
	purger := m.purgers[c]
	_, held := m.holds[c]
	m.mu.RUnlock()

	res := Result{Category: c}
	switch {
	case policy == nil:
		res.Skipped = "no policy"
	case !policy.Active:
		res.Skipped = "policy inactive"
	case policy.Indefinite:
		res.Skipped = "indefinite retention"
	case held:
		res.Skipped = "hold"
	}
	if res.Skipped != "" {
		return res
	}

	n, err := purger.Purge(ctx, now)
	res.Purged, res.Err = n, err
	if err != nil {
		m.log.Error("retention purge failed", slog.String("category", string(c)), slog.String("error", err.Error()))
		return res
	}
	if n > 0 {
		metrics.RetentionPurged.WithLabelValues(string(c)).Add(float64(n))
		m.log.Info("retention purge", slog.String("category", string(c)), slog.Int64("purged", n))
	}
	return res
}

// Run sweeps immediately and then every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	m.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
