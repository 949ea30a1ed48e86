// Package projector maps decoded events onto entity writes.
package projector

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	"github.com/goran-ethernal/ChainProjector/pkg/entity"
	"github.com/goran-ethernal/ChainProjector/pkg/event"
)

// EntityWriter is the transactional view of the entity store a mapping works against.
// *store.Tx implements it.
type EntityWriter interface {
	Get(ctx context.Context, entityType, id string) (*entity.Entity, error)
	Upsert(ctx context.Context, entityType, id string, fields entity.Fields) error
}

// MappingFunc projects one event onto the entity store.
// It must only touch the store through w so that replaying an event reconverges to the same state.
type MappingFunc func(ctx context.Context, ev *event.Event, w EntityWriter) error

// Projector dispatches events to the mapping registered for their name.
type Projector struct {
	mu       sync.RWMutex
	mappings map[string]MappingFunc
	log      *logger.Logger
}

// New creates a projector without mappings.
func New(log *logger.Logger) *Projector {
	return &Projector{
		mappings: make(map[string]MappingFunc),
		log:      log,
	}
}

// Register binds a mapping to an event name. Registering a name twice is an error.
func (p *Projector) Register(eventName string, fn MappingFunc) error {
	if eventName == "" {
		return fmt.Errorf("mapping without event name")
	}
	if fn == nil {
		return fmt.Errorf("nil mapping for event %s", eventName)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.mappings[eventName]; exists {
		return fmt.Errorf("mapping for event %s already registered", eventName)
	}
	p.mappings[eventName] = fn
	return nil
}

// Mappings returns the event names with a registered mapping, sorted.
func (p *Projector) Mappings() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.mappings))
	for name := range p.mappings {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Apply runs the mapping for ev against w. Events without a mapping are ignored.
func (p *Projector) Apply(ctx context.Context, ev *event.Event, w EntityWriter) error {
	p.mu.RLock()
	fn, ok := p.mappings[ev.Name]
	p.mu.RUnlock()

	if !ok {
		p.log.Debugf("no mapping for event %s, skipping", ev)
		metrics.EventSkippedInc("unknown_event")
		return nil
	}

	if err := fn(ctx, ev, w); err != nil {
		return fmt.Errorf("mapping %s failed: %w", ev, err)
	}

	metrics.EventProjectedInc(ev.Name)
	return nil
}
