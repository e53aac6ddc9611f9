package semantic

import (
	"context"
	"log/slog"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type opKind int

const (
	opSave opKind = iota
	opHit
	opDelete
)

type storeOp struct {
	kind  opKind
	entry domain.CacheEntry
	ids   []string
}

// enqueue never blocks the request path; a full queue drops the write.
func (c *Cache) enqueue(op storeOp) {
	if c.store == nil {
		return
	}
	select {
	case c.ops <- op:
	default:
		c.dropped.Add(1)
		slog.Warn("cache_store_queue_full", "dropped_total", c.dropped.Load())
	}
}

func (c *Cache) apply(ctx context.Context, op storeOp) {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	var err error
	switch op.kind {
	case opSave:
		err = c.store.Save(opCtx, op.entry)
	case opHit:
		err = c.store.RecordHit(opCtx, op.entry.ID, op.entry.HitCount, op.entry.LastHitAt)
	case opDelete:
		err = c.store.Delete(opCtx, op.ids)
	}
	if err != nil {
		slog.Warn("cache_store_write_failed", "op", int(op.kind), "error", err)
	}
}

// drain flushes queued writes with a fresh context after shutdown starts.
func (c *Cache) drain() {
	for {
		select {
		case op := <-c.ops:
			c.apply(context.Background(), op)
		default:
			return
		}
	}
}
