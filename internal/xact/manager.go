// Package xact provides the in-process transaction event bus. It stands in
// for the host transaction manager: components register for commit, abort,
// subtransaction and shutdown callbacks, and catalog-change notifications
// are delivered through it in order.
package xact

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/relmeta/relmeta/pkg/types"
)

// Event is a transaction lifecycle event delivered to listeners.
type Event int

const (
	EventBegin Event = iota
	EventCommit
	EventAbort
	EventSubBegin
	EventSubCommit
	EventSubAbort
	EventShutdown
)

// String returns the display name of the event.
func (e Event) String() string {
	switch e {
	case EventBegin:
		return "begin"
	case EventCommit:
		return "commit"
	case EventAbort:
		return "abort"
	case EventSubBegin:
		return "sub-begin"
	case EventSubCommit:
		return "sub-commit"
	case EventSubAbort:
		return "sub-abort"
	case EventShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Listener receives transaction events and catalog-change notifications.
// Callbacks run synchronously on the delivering goroutine, in registration
// order.
type Listener interface {
	// TransactionEvent reports a lifecycle event. For subtransaction events
	// level is the nesting depth of the subtransaction concerned (1 is the
	// first subtransaction); for top-level events it is 0.
	TransactionEvent(ev Event, level int)

	// RelationInvalidated reports a catalog change affecting one relation.
	// The notification carries no role information: the relation may be a
	// partitioned parent, a child partition, or unrelated.
	RelationInvalidated(relid types.RelationID)

	// CacheReset reports a catalog-wide invalidation: everything cached
	// from the catalog must be considered suspect.
	CacheReset()
}

// Manager tracks (sub)transaction nesting for one backend process and fans
// events out to registered listeners.
type Manager struct {
	mu        sync.Mutex
	listeners []Listener
	inTxn     bool
	subLevel  int
	log       zerolog.Logger
}

// NewManager creates a transaction event bus.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

// Register adds a listener. Listeners cannot be removed; their lifetime is
// the lifetime of the backend.
func (m *Manager) Register(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// InTransaction reports whether a top-level transaction is open.
func (m *Manager) InTransaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inTxn
}

// SubLevel returns the current subtransaction nesting depth.
func (m *Manager) SubLevel() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subLevel
}

// Begin opens a top-level transaction.
func (m *Manager) Begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inTxn {
		return fmt.Errorf("xact: transaction already in progress")
	}
	m.inTxn = true
	m.subLevel = 0
	m.deliverLocked(EventBegin, 0)
	return nil
}

// Commit closes the top-level transaction, delivering EventCommit to the
// listeners while the transaction is still considered open. Open
// subtransactions are committed into the top level first.
func (m *Manager) Commit() error {
	m.mu.Lock()
	if !m.inTxn {
		m.mu.Unlock()
		return fmt.Errorf("xact: no transaction in progress")
	}
	for m.subLevel > 0 {
		level := m.subLevel
		m.subLevel--
		m.deliverLocked(EventSubCommit, level)
	}
	m.deliverLocked(EventCommit, 0)
	m.inTxn = false
	m.mu.Unlock()
	return nil
}

// Abort rolls back the top-level transaction and everything nested in it.
func (m *Manager) Abort() error {
	m.mu.Lock()
	if !m.inTxn {
		m.mu.Unlock()
		return fmt.Errorf("xact: no transaction in progress")
	}
	for m.subLevel > 0 {
		level := m.subLevel
		m.subLevel--
		m.deliverLocked(EventSubAbort, level)
	}
	m.deliverLocked(EventAbort, 0)
	m.inTxn = false
	m.mu.Unlock()
	return nil
}

// BeginSub opens a subtransaction.
func (m *Manager) BeginSub() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inTxn {
		return fmt.Errorf("xact: no transaction in progress")
	}
	m.subLevel++
	m.deliverLocked(EventSubBegin, m.subLevel)
	return nil
}

// CommitSub commits the innermost subtransaction into its parent.
func (m *Manager) CommitSub() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subLevel == 0 {
		return fmt.Errorf("xact: no subtransaction in progress")
	}
	level := m.subLevel
	m.subLevel--
	m.deliverLocked(EventSubCommit, level)
	return nil
}

// AbortSub rolls back the innermost subtransaction.
func (m *Manager) AbortSub() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subLevel == 0 {
		return fmt.Errorf("xact: no subtransaction in progress")
	}
	level := m.subLevel
	m.subLevel--
	m.deliverLocked(EventSubAbort, level)
	return nil
}

// Shutdown announces that the backend is tearing down. After this, listeners
// must not attempt further catalog access.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliverLocked(EventShutdown, 0)
}

// NotifyRelation delivers a catalog-change notification for one relation.
func (m *Manager) NotifyRelation(relid types.RelationID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Debug().Uint32("relation", uint32(relid)).Msg("delivering invalidation")
	for _, l := range m.listeners {
		l.RelationInvalidated(relid)
	}
}

// NotifyAll delivers a catalog-wide invalidation.
func (m *Manager) NotifyAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Debug().Msg("delivering cache reset")
	for _, l := range m.listeners {
		l.CacheReset()
	}
}

func (m *Manager) deliverLocked(ev Event, level int) {
	m.log.Debug().Stringer("event", ev).Int("level", level).Msg("transaction event")
	for _, l := range m.listeners {
		l.TransactionEvent(ev, level)
	}
}
