// Package diagnostics records orchestration errors in a bounded log and
// builds point-in-time health snapshots for troubleshooting.
package diagnostics

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/meshmeet/internal/clock"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 100

// Kind classifies a recorded error.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindSignaling Kind = "signaling"
	KindHandshake Kind = "handshake"
	KindMedia     Kind = "media"
	KindNetwork   Kind = "network"
)

// Severity grades a recorded error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Entry is one recorded error.
type Entry struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Recorder is what the orchestration components write to.
type Recorder interface {
	Record(kind Kind, severity Severity, message string, fields map[string]string)
}

// Nop discards everything recorded.
type Nop struct{}

func (Nop) Record(Kind, Severity, string, map[string]string) {}

// Collector keeps the most recent errors in a ring buffer.
type Collector struct {
	mu      sync.RWMutex
	entries []Entry
	start   int
	count   int
	sources Sources

	clock  clock.Clock
	logger *zap.Logger
}

// NewCollector creates a collector holding up to capacity entries
// (DefaultCapacity when capacity <= 0).
func NewCollector(capacity int, clk clock.Clock, logger *zap.Logger) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		entries: make([]Entry, capacity),
		clock:   clk,
		logger:  logger,
	}
}

// Record appends an entry, evicting the oldest once full.
func (c *Collector) Record(kind Kind, severity Severity, message string, fields map[string]string) {
	e := Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		Fields:    copyFields(fields),
		Timestamp: c.clock.Now(),
	}

	c.mu.Lock()
	idx := (c.start + c.count) % len(c.entries)
	c.entries[idx] = e
	if c.count < len(c.entries) {
		c.count++
	} else {
		c.start = (c.start + 1) % len(c.entries)
	}
	c.mu.Unlock()

	c.logger.Debug("diagnostic recorded",
		zap.String("kind", string(kind)),
		zap.String("severity", string(severity)),
		zap.String("message", message))
}

// Recent returns up to n entries, newest first. n <= 0 returns all.
func (c *Collector) Recent(n int) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || n > c.count {
		n = c.count
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (c.start + c.count - 1 - i) % len(c.entries)
		out = append(out, c.entries[idx])
	}
	return out
}

// Len returns the number of stored entries.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// Clear drops every entry.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		c.entries[i] = Entry{}
	}
	c.start, c.count = 0, 0
}

func copyFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
