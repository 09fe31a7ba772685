package journal

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the retention of the default in-memory store
const DefaultTTL = 10 * time.Minute

// IDGenerator returns a fresh request id for requests that carry none
type IDGenerator func() string

// DefaultIDGenerator returns random UUIDs
func DefaultIDGenerator() string {
	return uuid.NewString()
}

type config struct {
	ttl   time.Duration
	store Store
	newID IDGenerator
	now   func() time.Time
}

// Option configures a Journal
type Option func(*config)

// WithTTL sets the retention of settled entries.
//
// Only applies to the default InMemoryStore; configure TTL on a custom store
// directly.
//
// Default: 10 minutes
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStore sets the backing store. When specified, WithTTL is ignored.
func WithStore(store Store) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithIDGenerator overrides how missing request ids are assigned
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *config) {
		c.newID = gen
	}
}

// WithClock overrides the clock stamping entries
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}
