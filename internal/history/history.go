// Package history keeps the rolling list of past captures.
//
// The list is most-recent-first, never longer than Capacity, and written
// through to a single storage key on every mutation. Storage failures are
// logged and otherwise ignored: the in-memory list always reflects the last
// mutation.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"snapcapture/internal/blob"
	"snapcapture/internal/logger"
	"snapcapture/internal/storage"
)

// Capacity is the maximum number of captures kept.
const Capacity = 10

// Capture is one stored record pairing an image with its extracted text.
type Capture struct {
	ID        string
	Image     blob.Ref
	Text      string
	Timestamp time.Time
}

// Store is the history contract the capture controller depends on.
type Store interface {
	Load(ctx context.Context)
	Add(ctx context.Context, c Capture) Capture
	Clear(ctx context.Context)
	List() []Capture
	Get(id string) (Capture, bool)
}

// Images is the part of the blob registry the cache needs: releasing evicted
// handles and embedding transient images before they are persisted.
type Images interface {
	Release(ref blob.Ref)
	Embed(ref blob.Ref) (blob.Ref, error)
}

// record is the persisted form of a Capture.
type record struct {
	ID        string   `json:"id"`
	Image     blob.Ref `json:"image"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"`
}

// Cache implements Store over a storage.Backend.
type Cache struct {
	mu       sync.Mutex
	backend  storage.Backend
	key      string
	images   Images
	now      func() time.Time
	log      zerolog.Logger
	entries  []Capture
	embedded map[blob.Ref]blob.Ref // transient handle -> persisted image
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used to stamp new captures.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an empty cache; call Load to read the persisted list.
func NewCache(backend storage.Backend, key string, images Images, opts ...Option) *Cache {
	c := &Cache{
		backend:  backend,
		key:      key,
		images:   images,
		now:      time.Now,
		log:      logger.WithComponent("history"),
		embedded: make(map[blob.Ref]blob.Ref),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load replaces the in-memory list with the persisted one. A missing or
// unreadable record yields an empty history.
func (c *Cache) Load(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = nil
	c.embedded = make(map[blob.Ref]blob.Ref)

	raw, err := c.backend.Get(ctx, c.key)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to load history from storage")
		return
	}

	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		c.log.Error().Err(err).Msg("Failed to parse stored history")
		return
	}

	if len(records) > Capacity {
		records = records[:Capacity]
	}
	for _, r := range records {
		c.entries = append(c.entries, Capture{
			ID:        r.ID,
			Image:     r.Image,
			Text:      r.Text,
			Timestamp: time.UnixMilli(r.Timestamp),
		})
	}

	c.log.Debug().Int("entries", len(c.entries)).Msg("History loaded")
}

// Add prepends capture stamped with the current time. The cache takes
// ownership of capture.Image.
func (c *Cache) Add(ctx context.Context, capture Capture) Capture {
	c.mu.Lock()
	defer c.mu.Unlock()

	capture.Timestamp = c.now()
	c.entries = append([]Capture{capture}, c.entries...)

	if len(c.entries) > Capacity {
		oldest := c.entries[len(c.entries)-1]
		c.images.Release(oldest.Image)
		delete(c.embedded, oldest.Image)
		c.entries = c.entries[:len(c.entries)-1]

		c.log.Debug().Str("id", oldest.ID).Msg("Evicted oldest capture")
	}

	if err := c.persist(ctx); err != nil {
		c.log.Error().Err(err).Msg("Failed to save history to storage")
	}
	return capture
}

// Clear releases every held image and removes the persisted record.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		c.images.Release(e.Image)
	}
	c.entries = nil
	c.embedded = make(map[blob.Ref]blob.Ref)

	if err := c.backend.Delete(ctx, c.key); err != nil {
		c.log.Error().Err(err).Msg("Failed to clear history from storage")
	}
}

// List returns a copy of the entries, most recent first.
func (c *Cache) List() []Capture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Capture(nil), c.entries...)
}

func (c *Cache) Get(id string) (Capture, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Capture{}, false
}

// persist writes the current list. Transient images are embedded so the
// record stays usable after the process exits; an image that can no longer
// be resolved is written as-is.
func (c *Cache) persist(ctx context.Context) error {
	records := make([]record, 0, len(c.entries))
	for _, e := range c.entries {
		records = append(records, record{
			ID:        e.ID,
			Image:     c.persistedImage(e),
			Text:      e.Text,
			Timestamp: e.Timestamp.UnixMilli(),
		})
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return c.backend.Set(ctx, c.key, raw)
}

func (c *Cache) persistedImage(e Capture) blob.Ref {
	if !e.Image.IsTransient() {
		return e.Image
	}
	if ref, ok := c.embedded[e.Image]; ok {
		return ref
	}
	ref, err := c.images.Embed(e.Image)
	if err != nil {
		c.log.Warn().Err(err).Str("id", e.ID).Msg("Could not embed capture image")
		return e.Image
	}
	c.embedded[e.Image] = ref
	return ref
}
