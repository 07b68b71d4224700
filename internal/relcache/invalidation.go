package relcache

import (
	"github.com/rs/zerolog"

	"github.com/relmeta/relmeta/internal/xact"
	"github.com/relmeta/relmeta/pkg/types"
)

// invalidation is one queued cache-teardown request. A parent-flagged entry
// targets a relation known to be a partitioned parent; a vague one targets
// a relation whose role (parent, child or unrelated) is unknown until the
// safe point.
type invalidation struct {
	relid types.RelationID
	vague bool
}

// Coordinator applies catalog-change notifications to the caches, deferring
// them while a transaction is open: notifications delivered mid-transaction
// are queued per subtransaction level and flushed, in delivery order, at
// the transaction-safe point. A subtransaction abort discards its queue; a
// subtransaction commit folds its queue into the enclosing level.
//
// The coordinator is driven by the transaction manager's callbacks and must
// not call back into the manager from them.
type Coordinator struct {
	store *Store
	log   zerolog.Logger

	// queues is the per-nesting-level invalidation stack. Empty when no
	// transaction is open; queues[0] is the top level, queues[i] the
	// subtransaction at depth i.
	queues   [][]invalidation
	shutdown bool
}

var _ xact.Listener = (*Coordinator)(nil)

// NewCoordinator creates the invalidation coordinator for one store.
func NewCoordinator(store *Store, log zerolog.Logger) *Coordinator {
	return &Coordinator{store: store, log: log}
}

// DelayShutdown marks the backend as tearing down. From here on
// invalidations stop resolving roles and degrade to unconditional local
// marking.
func (c *Coordinator) DelayShutdown() {
	c.shutdown = true
}

// DelayInvalidationParent requests invalidation of a relation known to be a
// partitioned parent. Applied immediately outside a transaction, queued
// otherwise.
func (c *Coordinator) DelayInvalidationParent(relid types.RelationID) {
	c.enqueue(invalidation{relid: relid, vague: false})
}

// DelayInvalidationVague requests invalidation of a relation whose
// partitioning role is unknown. The role is resolved at the safe point, not
// here: notifications can arrive in windows where looking anything up is
// unsafe.
func (c *Coordinator) DelayInvalidationVague(relid types.RelationID) {
	c.enqueue(invalidation{relid: relid, vague: true})
}

// FinishDelayedInvalidation drains every queued entry in delivery order.
// Called at the transaction-safe point; harmless when nothing is queued.
func (c *Coordinator) FinishDelayedInvalidation() {
	var pending []invalidation
	for _, q := range c.queues {
		pending = append(pending, q...)
	}
	c.queues = nil

	for _, inv := range pending {
		c.apply(inv)
	}
}

// TransactionEvent implements xact.Listener.
func (c *Coordinator) TransactionEvent(ev xact.Event, level int) {
	switch ev {
	case xact.EventBegin:
		c.queues = [][]invalidation{nil}
	case xact.EventSubBegin:
		c.queues = append(c.queues, nil)
	case xact.EventSubCommit:
		// Fold the committed subtransaction's queue into its parent.
		if n := len(c.queues); n > 1 {
			c.queues[n-2] = append(c.queues[n-2], c.queues[n-1]...)
			c.queues = c.queues[:n-1]
		}
	case xact.EventSubAbort:
		if n := len(c.queues); n > 1 {
			c.queues = c.queues[:n-1]
		}
	case xact.EventCommit:
		c.FinishDelayedInvalidation()
	case xact.EventAbort:
		// The transaction's catalog changes rolled back with it.
		if n := c.queuedCount(); n > 0 {
			c.log.Debug().Int("discarded", n).Msg("dropping invalidations of aborted transaction")
		}
		c.queues = nil
	case xact.EventShutdown:
		c.DelayShutdown()
	}
}

// RelationInvalidated implements xact.Listener. Role information is absent
// from the notification, so the request is vague.
func (c *Coordinator) RelationInvalidated(relid types.RelationID) {
	c.DelayInvalidationVague(relid)
}

// CacheReset implements xact.Listener. Marking everything stale needs no
// catalog access, so it is always applied on the spot.
func (c *Coordinator) CacheReset() {
	c.store.InvalidateAll()
	c.store.Parents().Reset()
	c.store.Bounds().Reset()
}

func (c *Coordinator) enqueue(inv invalidation) {
	if len(c.queues) == 0 {
		// No transaction open: this already is a safe point.
		c.apply(inv)
		return
	}
	c.queues[len(c.queues)-1] = append(c.queues[len(c.queues)-1], inv)
}

// apply resolves and executes one invalidation using only local cache
// state. A relation with a cached descriptor is a known parent: its
// descriptor goes stale. A relation in the parent cache is a known child:
// its parent mapping and bound info are forgotten, the parent descriptor
// untouched. Anything else is a no-op. Staying local keeps the safe-point
// flush free of catalog access, which also makes it valid during shutdown.
func (c *Coordinator) apply(inv invalidation) {
	if !inv.vague {
		c.store.Invalidate(inv.relid)
		return
	}
	if c.store.Has(inv.relid) {
		c.store.Invalidate(inv.relid)
		return
	}
	if c.store.Parents().Has(inv.relid) {
		c.store.Parents().Forget(inv.relid)
		c.store.Bounds().Forget(inv.relid)
		return
	}
	if c.shutdown {
		return
	}
	c.log.Debug().Uint32("relation", uint32(inv.relid)).Msg("vague invalidation matched nothing cached")
}

func (c *Coordinator) queuedCount() int {
	n := 0
	for _, q := range c.queues {
		n += len(q)
	}
	return n
}
