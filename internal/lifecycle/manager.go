// Package lifecycle owns the authoritative alert set: deduplication,
// state transitions, snooze timers, and retention.
package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lead-alerts/internal/model"
)

// TransitionKind labels why an alert changed.
type TransitionKind string

const (
	TransitionCreated       TransitionKind = "created"
	TransitionAcknowledged  TransitionKind = "acknowledged"
	TransitionSnoozed       TransitionKind = "snoozed"
	TransitionSnoozeExpired TransitionKind = "snooze_expired"
	TransitionResolved      TransitionKind = "resolved"
)

// Transition is published to listeners on every alert change. The alert
// is a copy; listeners cannot mutate manager state through it.
type Transition struct {
	Alert model.Alert
	From  model.AlertState
	To    model.AlertState
	Kind  TransitionKind
	At    time.Time
}

// Listener receives lifecycle transitions. Called synchronously in
// command order per alert; implementations must not block.
type Listener func(Transition)

type activeKey struct {
	entityID string
	typ      model.AlertType
}

// Manager holds exactly one mutable record per alert id and enforces the
// at-most-one-active-alert invariant per (entity, type).
type Manager struct {
	mu     sync.RWMutex
	alerts map[string]*model.Alert
	// active maps (entity, type) to the id of its single active alert.
	active map[activeKey]string
	timers map[string]*time.Timer

	retention time.Duration
	nowFunc   func() time.Time
	listeners []Listener
	closed    bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetention sets how long resolved and expired-snoozed alerts are
// kept before garbage collection. Default 72h.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithNowFunc injects a clock for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) { m.nowFunc = now }
}

// WithListener registers a transition listener.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// NewManager creates an empty lifecycle manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		alerts:    make(map[string]*model.Alert),
		active:    make(map[activeKey]string),
		timers:    make(map[string]*time.Timer),
		retention: 72 * time.Hour,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe adds a transition listener after construction.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Close stops all snooze timers.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// Raise commits a candidate as a new alert unless an active alert
// already exists for the same (entity, type). The check and insert are
// atomic, so concurrent candidates for the same pair yield exactly one
// alert. Returns the alert and whether it was newly created.
func (m *Manager) Raise(c model.Candidate) (model.Alert, bool) {
	now := m.nowFunc()

	m.mu.Lock()
	key := activeKey{entityID: c.EntityID, typ: c.Type}
	var expired *model.Alert
	if id, ok := m.active[key]; ok {
		existing := m.alerts[id]
		if existing != nil && existing.ActiveAt(now) {
			out := *existing
			m.mu.Unlock()
			return out, false
		}
		// Stale index entry (expired snooze); retire it and replace.
		// If its timer has not fired yet, the expiry transition is
		// published here so listeners see it before the new alert.
		delete(m.active, key)
		if existing != nil && existing.State == model.AlertSnoozed {
			if _, armed := m.timers[id]; armed {
				m.stopTimerLocked(id)
				cp := *existing
				expired = &cp
			}
		}
	}

	alert := &model.Alert{
		ID:        uuid.NewString(),
		EntityID:  c.EntityID,
		RuleID:    c.RuleID,
		Type:      c.Type,
		Severity:  c.Severity,
		Message:   c.Message,
		Details:   c.Details,
		State:     model.AlertOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.alerts[alert.ID] = alert
	m.active[key] = alert.ID
	out := *alert
	m.mu.Unlock()

	if expired != nil {
		m.publish(Transition{Alert: *expired, From: model.AlertSnoozed, To: model.AlertSnoozed, Kind: TransitionSnoozeExpired, At: now})
	}
	m.publish(Transition{Alert: out, From: "", To: model.AlertOpen, Kind: TransitionCreated, At: now})
	return out, true
}

// Restore inserts an alert preserving its id and state, rebuilding
// in-memory state from the durable store at startup. No transition is
// published. Snoozed alerts get their expiry timer re-armed.
func (m *Manager) Restore(a model.Alert) {
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := a
	m.alerts[cp.ID] = &cp
	if cp.ActiveAt(now) {
		m.active[activeKey{entityID: cp.EntityID, typ: cp.Type}] = cp.ID
	}
	if cp.State == model.AlertSnoozed && cp.SnoozedUntil != nil && cp.SnoozedUntil.After(now) {
		m.armSnoozeTimerLocked(cp.ID, cp.SnoozedUntil.Sub(now))
	}
}

// Acknowledge moves an open or snoozed alert to acknowledged. The caller
// supplies no expected state; the transition is validated against the
// state read inside the critical section, and a concurrent mutation
// between read and write surfaces as ConflictError via AcknowledgeFrom.
func (m *Manager) Acknowledge(id string) (model.Alert, error) {
	snap, err := m.Get(id)
	if err != nil {
		return model.Alert{}, err
	}
	return m.AcknowledgeFrom(id, snap.State)
}

// AcknowledgeFrom is the compare-and-set form: the transition applies
// only if the alert is still in the expected state.
func (m *Manager) AcknowledgeFrom(id string, expected model.AlertState) (model.Alert, error) {
	return m.transition(id, expected, "acknowledge", func(a *model.Alert, now time.Time) (TransitionKind, error) {
		switch a.State {
		case model.AlertOpen, model.AlertSnoozed:
			m.stopTimerLocked(id)
			a.State = model.AlertAcknowledged
			a.SnoozedUntil = nil
			return TransitionAcknowledged, nil
		default:
			return "", &InvalidStateError{AlertID: id, State: a.State, Op: "acknowledge"}
		}
	})
}

// Snooze suppresses an active alert until the given time, which must be
// in the future.
func (m *Manager) Snooze(id string, until time.Time) (model.Alert, error) {
	snap, err := m.Get(id)
	if err != nil {
		return model.Alert{}, err
	}
	return m.SnoozeFrom(id, snap.State, until)
}

// SnoozeFrom is the compare-and-set form of Snooze.
func (m *Manager) SnoozeFrom(id string, expected model.AlertState, until time.Time) (model.Alert, error) {
	return m.transition(id, expected, "snooze", func(a *model.Alert, now time.Time) (TransitionKind, error) {
		if !until.After(now) {
			return "", &InvalidArgumentError{AlertID: id, Reason: "snooze deadline must be in the future"}
		}
		switch a.State {
		case model.AlertOpen, model.AlertAcknowledged, model.AlertSnoozed:
			m.stopTimerLocked(id)
			a.State = model.AlertSnoozed
			u := until
			a.SnoozedUntil = &u
			m.armSnoozeTimerLocked(id, until.Sub(now))
			return TransitionSnoozed, nil
		default:
			return "", &InvalidStateError{AlertID: id, State: a.State, Op: "snooze"}
		}
	})
}

// Resolve marks an alert resolved, e.g. when the underlying condition
// clears. Resolved alerts are terminal and garbage-collected after the
// retention window; a recurrence of the condition produces a new alert
// with a new id.
func (m *Manager) Resolve(id string) (model.Alert, error) {
	snap, err := m.Get(id)
	if err != nil {
		return model.Alert{}, err
	}
	return m.ResolveFrom(id, snap.State)
}

// ResolveFrom is the compare-and-set form of Resolve.
func (m *Manager) ResolveFrom(id string, expected model.AlertState) (model.Alert, error) {
	return m.transition(id, expected, "resolve", func(a *model.Alert, now time.Time) (TransitionKind, error) {
		switch a.State {
		case model.AlertOpen, model.AlertAcknowledged, model.AlertSnoozed:
			m.stopTimerLocked(id)
			a.State = model.AlertResolved
			t := now
			a.ResolvedAt = &t
			a.SnoozedUntil = nil
			m.dropActiveLocked(a)
			return TransitionResolved, nil
		default:
			return "", &InvalidStateError{AlertID: id, State: a.State, Op: "resolve"}
		}
	})
}

// ResolveEntity resolves all active alerts of the given type for an
// entity. Used when the underlying condition clears (lead converted,
// drift recovered).
func (m *Manager) ResolveEntity(entityID string, typ model.AlertType) []model.Alert {
	m.mu.RLock()
	id, ok := m.active[activeKey{entityID: entityID, typ: typ}]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	alert, err := m.Resolve(id)
	if err != nil {
		return nil
	}
	return []model.Alert{alert}
}

// Get returns a copy of the alert or NotFoundError.
func (m *Manager) Get(id string) (model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return model.Alert{}, &NotFoundError{AlertID: id}
	}
	return *a, nil
}

// List returns copies of all alerts, in no particular order. The query
// facade applies filtering and sorting.
func (m *Manager) List() []model.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	return out
}

// ActiveFor reports whether an active alert exists for (entity, type).
func (m *Manager) ActiveFor(entityID string, typ model.AlertType) bool {
	now := m.nowFunc()
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.active[activeKey{entityID: entityID, typ: typ}]
	if !ok {
		return false
	}
	a := m.alerts[id]
	return a != nil && a.ActiveAt(now)
}

// GC removes resolved and expired-snoozed alerts past the retention
// window. Returns the number collected. Run from the engine scheduler.
func (m *Manager) GC() int {
	now := m.nowFunc()
	cutoff := now.Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	collected := 0
	for id, a := range m.alerts {
		var terminalAt time.Time
		switch {
		case a.State == model.AlertResolved && a.ResolvedAt != nil:
			terminalAt = *a.ResolvedAt
		case a.State == model.AlertSnoozed && a.SnoozedUntil != nil && now.After(*a.SnoozedUntil):
			terminalAt = *a.SnoozedUntil
		default:
			continue
		}
		if terminalAt.Before(cutoff) {
			delete(m.alerts, id)
			m.dropActiveLocked(a)
			m.stopTimerLocked(id)
			collected++
		}
	}
	if collected > 0 {
		zap.L().Debug("lifecycle: gc complete", zap.Int("collected", collected))
	}
	return collected
}

// transition applies a compare-and-set mutation under the manager lock.
func (m *Manager) transition(id string, expected model.AlertState, op string, apply func(*model.Alert, time.Time) (TransitionKind, error)) (model.Alert, error) {
	now := m.nowFunc()

	m.mu.Lock()
	a, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return model.Alert{}, &NotFoundError{AlertID: id}
	}
	if a.State != expected {
		actual := a.State
		m.mu.Unlock()
		return model.Alert{}, &ConflictError{AlertID: id, Expected: expected, Actual: actual}
	}

	from := a.State
	kind, err := apply(a, now)
	if err != nil {
		m.mu.Unlock()
		return model.Alert{}, err
	}
	a.UpdatedAt = now
	out := *a
	m.mu.Unlock()

	m.publish(Transition{Alert: out, From: from, To: out.State, Kind: kind, At: now})
	return out, nil
}

// expireSnooze fires when a snooze deadline passes. An expired snooze is
// terminal: the (entity, type) pair becomes eligible for a fresh alert,
// and the old record waits for GC.
func (m *Manager) expireSnooze(id string) {
	now := m.nowFunc()

	m.mu.Lock()
	a, ok := m.alerts[id]
	if !ok || m.closed {
		m.mu.Unlock()
		return
	}
	if _, armed := m.timers[id]; !armed {
		// Raise retired this snooze first and already published the
		// expiry transition.
		m.mu.Unlock()
		return
	}
	delete(m.timers, id)
	if a.State != model.AlertSnoozed || a.SnoozedUntil == nil || now.Before(*a.SnoozedUntil) {
		m.mu.Unlock()
		return
	}
	m.dropActiveLocked(a)
	out := *a
	m.mu.Unlock()

	m.publish(Transition{Alert: out, From: model.AlertSnoozed, To: model.AlertSnoozed, Kind: TransitionSnoozeExpired, At: now})
}

func (m *Manager) armSnoozeTimerLocked(id string, d time.Duration) {
	if m.closed {
		return
	}
	m.timers[id] = time.AfterFunc(d, func() { m.expireSnooze(id) })
}

func (m *Manager) stopTimerLocked(id string) {
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) dropActiveLocked(a *model.Alert) {
	key := activeKey{entityID: a.EntityID, typ: a.Type}
	if m.active[key] == a.ID {
		delete(m.active, key)
	}
}

func (m *Manager) publish(t Transition) {
	m.mu.RLock()
	listeners := m.listeners
	m.mu.RUnlock()
	for _, l := range listeners {
		l(t)
	}
}
