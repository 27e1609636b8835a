// Package spatial provides a point quadtree answering "all items within
// radius r of point p" queries over a bounded plane.
package spatial

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"

	"github.com/signalsfoundry/epidemic-simulator/model"
)

// ErrOutOfBounds indicates an item positioned outside the indexed domain.
var ErrOutOfBounds = errors.New("item outside index bounds")

// Item is a positioned value stored in the index.
type Item[T any] struct {
	Pos   model.Vec2
	Value T
}

// entry adapts an Item to orb.Pointer.
type entry[T any] struct {
	item  Item[T]
	point orb.Point
}

func (e *entry[T]) Point() orb.Point { return e.point }

// Quadtree is an immutable-after-build point index. Query is safe for
// concurrent use once Build has returned.
type Quadtree[T any] struct {
	tree    *quadtree.Quadtree
	entries []entry[T]
	buffers sync.Pool
}

// Build constructs a fresh index from items. Any item outside bounds aborts
// construction with ErrOutOfBounds.
func Build[T any](bounds model.Bounds, items []Item[T]) (*Quadtree[T], error) {
	qt := &Quadtree[T]{
		tree:    quadtree.New(bounds.Bound()),
		entries: make([]entry[T], len(items)),
	}
	for i := range items {
		// orb bounds are closed; the domain excludes its far edges.
		if !bounds.Contains(items[i].Pos) {
			return nil, fmt.Errorf("%w: item %d at (%g, %g), bounds %gx%g",
				ErrOutOfBounds, i, items[i].Pos.X, items[i].Pos.Y, bounds.Width, bounds.Height)
		}
		e := &qt.entries[i]
		e.item = items[i]
		e.point = items[i].Pos.Point()
		if err := qt.tree.Add(e); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w", ErrOutOfBounds, i, err)
		}
	}
	return qt, nil
}

// Len returns the number of indexed items.
func (qt *Quadtree[T]) Len() int {
	return len(qt.entries)
}

// Query returns every item within radius of center. The result may include
// an item located at center itself; callers exclude it if needed.
func (qt *Quadtree[T]) Query(center model.Vec2, radius float64) []Item[T] {
	return qt.QueryInto(nil, center, radius)
}

// QueryInto appends matches to dst and returns the extended slice, letting
// callers reuse a buffer across queries.
func (qt *Quadtree[T]) QueryInto(dst []Item[T], center model.Vec2, radius float64) []Item[T] {
	if radius < 0 || len(qt.entries) == 0 {
		return dst
	}

	buf := qt.buffer()
	defer qt.release(buf)

	c := center.Point()
	radiusSq := radius * radius
	*buf = qt.tree.InBoundMatching(*buf, c.Bound().Pad(radius), func(p orb.Pointer) bool {
		pt := p.Point()
		dx, dy := pt[0]-c[0], pt[1]-c[1]
		return dx*dx+dy*dy <= radiusSq
	})
	for _, p := range *buf {
		dst = append(dst, p.(*entry[T]).item)
	}
	return dst
}

// buffer returns a pooled pointer slice with at least one slot, so orb
// reuses it instead of allocating.
func (qt *Quadtree[T]) buffer() *[]orb.Pointer {
	if buf, ok := qt.buffers.Get().(*[]orb.Pointer); ok {
		return buf
	}
	buf := make([]orb.Pointer, 1, 64)
	return &buf
}

func (qt *Quadtree[T]) release(buf *[]orb.Pointer) {
	clear(*buf)
	*buf = (*buf)[:1]
	qt.buffers.Put(buf)
}
