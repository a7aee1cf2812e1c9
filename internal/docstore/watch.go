package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/neulab/pr-arena/pkg/eventbus"
)

// Watch streams snapshots of one document: the current state first (when
// the document exists), then one snapshot per change. Writes made through
// this Store arrive through the bus. Polling picks up writes made by other
// processes sharing the database, as well as changes the bus dropped
// because this watcher fell behind. The channel is closed when ctx is done.
func (s *Store) Watch(ctx context.Context, collection, id string) (<-chan *eventbus.Change, error) {
	key := eventbus.Key(collection, id)
	sub := s.bus.Subscribe(key)

	var last int64
	var initial *eventbus.Change
	doc, err := s.GetDocument(ctx, collection, id)
	switch {
	case err == nil:
		initial = documentChange(doc)
		last = doc.Version
	case errors.Is(err, ErrNotFound):
	default:
		s.bus.Unsubscribe(key, sub)
		return nil, err
	}

	out := make(chan *eventbus.Change, 16)
	go func() {
		defer close(out)
		defer s.bus.Unsubscribe(key, sub)

		emit := func(c *eventbus.Change) bool {
			if c.Version <= last {
				return true
			}
			last = c.Version
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if initial != nil {
			select {
			case out <- initial:
			case <-ctx.Done():
				return
			}
		}

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-sub:
				if !ok {
					return
				}
				if !emit(c) {
					return
				}
			case <-ticker.C:
				doc, err := s.GetDocument(ctx, collection, id)
				if err != nil {
					if !errors.Is(err, ErrNotFound) && ctx.Err() == nil {
						clog.FromContext(ctx).Warnf("polling %s: %v", key, err)
					}
					continue
				}
				if !emit(documentChange(doc)) {
					return
				}
			}
		}
	}()
	return out, nil
}

func documentChange(doc *Document) *eventbus.Change {
	return &eventbus.Change{
		Collection: doc.Collection,
		ID:         doc.ID,
		Data:       doc.Data,
		Version:    doc.Version,
		UpdatedAt:  doc.UpdatedAt,
	}
}
