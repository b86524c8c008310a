// Package canonical holds the system-wide representation of records once
// they have been translated out of a connector's native schema. Inbound
// syncs write here; outbound syncs read from here.
package canonical

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
)

// Page is one slice of canonical records
type Page struct {
	Records []models.Record
	// NextCursor continues the read and is the checkpoint once Done
	NextCursor string
	Done       bool
}

// Sink accepts canonical records
type Sink interface {
	// Write stores records and reports one outcome per record
	Write(ctx context.Context, category string, records []models.Record) ([]models.RecordOutcome, error)
}

// Source serves canonical records in a stable order
type Source interface {
	Read(ctx context.Context, category, cursor string, batchSize int) (Page, error)
}

// Store is both ends of canonical storage
type Store interface {
	Sink
	Source
	Close() error
}

// MemoryStore keeps canonical records in memory. Records are upserted by
// ref, so replaying a batch does not duplicate them; reads follow first
// insertion order.
type MemoryStore struct {
	mu         sync.RWMutex
	categories map[string]*categoryRecords
}

type categoryRecords struct {
	order []string
	byRef map[string]models.Record
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{categories: make(map[string]*categoryRecords)}
}

// Write implements Sink. Records without a ref are rejected.
func (s *MemoryStore) Write(ctx context.Context, category string, records []models.Record) ([]models.RecordOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "canonical write interrupted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[category]
	if !ok {
		c = &categoryRecords{byRef: make(map[string]models.Record)}
		s.categories[category] = c
	}

	outcomes := make([]models.RecordOutcome, len(records))
	for i, r := range records {
		if r.Ref == "" {
			outcomes[i] = models.Rejected(i, r.Ref, "record has no ref")
			continue
		}
		if _, exists := c.byRef[r.Ref]; !exists {
			c.order = append(c.order, r.Ref)
		}
		c.byRef[r.Ref] = r.Clone()
		outcomes[i] = models.Accepted(i, r.Ref)
	}
	return outcomes, nil
}

// Read implements Source. The cursor is an offset into insertion order.
func (s *MemoryStore) Read(ctx context.Context, category, cursor string, batchSize int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, errors.Wrap(err, errors.ErrorTypeConnectorUnavailable, "canonical read interrupted")
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return Page{}, errors.Newf(errors.ErrorTypeInvalidRequest, "invalid canonical cursor %q", cursor)
		}
		offset = n
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[category]
	if !ok || offset >= len(c.order) {
		total := 0
		if ok {
			total = len(c.order)
		}
		if offset < total {
			offset = total
		}
		return Page{NextCursor: strconv.Itoa(offset), Done: true}, nil
	}
	if batchSize <= 0 {
		batchSize = len(c.order)
	}
	end := offset + batchSize
	if end > len(c.order) {
		end = len(c.order)
	}

	page := Page{Records: make([]models.Record, 0, end-offset)}
	for _, ref := range c.order[offset:end] {
		page.Records = append(page.Records, c.byRef[ref].Clone())
	}
	page.NextCursor = strconv.Itoa(end)
	page.Done = end >= len(c.order)
	return page, nil
}

// Get returns one canonical record
func (s *MemoryStore) Get(category, ref string) (models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[category]
	if !ok {
		return models.Record{}, false
	}
	r, ok := c.byRef[ref]
	if !ok {
		return models.Record{}, false
	}
	return r.Clone(), true
}

// Count returns the number of records held for a category
func (s *MemoryStore) Count(category string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.categories[category]; ok {
		return len(c.order)
	}
	return 0
}

// Categories lists categories holding records
func (s *MemoryStore) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.categories))
	for category := range s.categories {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }
