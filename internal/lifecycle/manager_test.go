package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-alerts/internal/model"
)

func candidate(entityID string, typ model.AlertType) model.Candidate {
	return model.Candidate{
		EntityID: entityID,
		RuleID:   "rule-1",
		Type:     typ,
		Severity: model.SeverityHigh,
		Message:  "urgency above threshold",
	}
}

func TestRaise_CreatesOpenAlert(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	alert, created := m.Raise(candidate("lead-1", model.AlertConversionOpportunity))
	require.True(t, created)
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, model.AlertOpen, alert.State)
	assert.Equal(t, "lead-1", alert.EntityID)
	assert.True(t, m.ActiveFor("lead-1", model.AlertConversionOpportunity))
}

func TestRaise_DeduplicatesActivePair(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	first, created := m.Raise(candidate("lead-1", model.AlertConversionOpportunity))
	require.True(t, created)

	second, created := m.Raise(candidate("lead-1", model.AlertConversionOpportunity))
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// Different type for the same entity is not suppressed.
	_, created = m.Raise(candidate("lead-1", model.AlertFollowUp))
	assert.True(t, created)
}

func TestRaise_ConcurrentCandidatesYieldOneAlert(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	ids := make(map[string]struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alert, isNew := m.Raise(candidate("lead-1", model.AlertDrift))
			mu.Lock()
			defer mu.Unlock()
			if isNew {
				created++
			}
			ids[alert.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
}

func TestAcknowledge(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	alert, _ := m.Raise(candidate("lead-1", model.AlertFollowUp))

	acked, err := m.Acknowledge(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertAcknowledged, acked.State)

	// Acknowledged alerts still suppress new candidates.
	assert.True(t, m.ActiveFor("lead-1", model.AlertFollowUp))
}

func TestAcknowledge_NotFound(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	_, err := m.Acknowledge("missing")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.AlertID)
}

func TestAcknowledge_ResolvedFailsStateUnchanged(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	alert, _ := m.Raise(candidate("lead-1", model.AlertFollowUp))
	_, err := m.Resolve(alert.ID)
	require.NoError(t, err)

	_, err = m.Acknowledge(alert.ID)
	var ise *InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, model.AlertResolved, ise.State)

	got, err := m.Get(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertResolved, got.State)
}

func TestSnooze_PastDeadlineFails(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	alert, _ := m.Raise(candidate("lead-1", model.AlertFollowUp))

	_, err := m.Snooze(alert.ID, time.Now().Add(-time.Minute))
	var iae *InvalidArgumentError
	require.True(t, errors.As(err, &iae))

	got, err := m.Get(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertOpen, got.State)
}

func TestSnooze_SuppressesUntilDeadline(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	alert, _ := m.Raise(candidate("lead-1", model.AlertDrift))
	snoozed, err := m.Snooze(alert.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.AlertSnoozed, snoozed.State)
	require.NotNil(t, snoozed.SnoozedUntil)

	// Re-trigger before the deadline is suppressed.
	_, created := m.Raise(candidate("lead-1", model.AlertDrift))
	assert.False(t, created)
}

func TestSnooze_ExpiryMakesPairEligible(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	var mu sync.Mutex
	var kinds []TransitionKind
	m.Subscribe(func(tr Transition) {
		mu.Lock()
		kinds = append(kinds, tr.Kind)
		mu.Unlock()
	})

	alert, _ := m.Raise(candidate("lead-1", model.AlertDrift))
	_, err := m.Snooze(alert.ID, time.Now().Add(20*time.Millisecond))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !m.ActiveFor("lead-1", model.AlertDrift)
	}, time.Second, 5*time.Millisecond)

	// The pair is eligible again: a new candidate creates a NEW alert id.
	fresh, created := m.Raise(candidate("lead-1", model.AlertDrift))
	assert.True(t, created)
	assert.NotEqual(t, alert.ID, fresh.ID)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, kinds, TransitionSnoozeExpired)
}

func TestSnooze_ExpiryPublishedOnceBeforeReplacement(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	var mu sync.Mutex
	var kinds []TransitionKind
	m.Subscribe(func(tr Transition) {
		mu.Lock()
		kinds = append(kinds, tr.Kind)
		mu.Unlock()
	})

	alert, _ := m.Raise(candidate("lead-1", model.AlertDrift))
	_, err := m.Snooze(alert.ID, time.Now().Add(10*time.Millisecond))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !m.ActiveFor("lead-1", model.AlertDrift)
	}, time.Second, time.Millisecond)

	_, created := m.Raise(candidate("lead-1", model.AlertDrift))
	require.True(t, created)

	// Give a late timer callback the chance to fire; it must not
	// publish a second expiry.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []TransitionKind{
		TransitionCreated,
		TransitionSnoozed,
		TransitionSnoozeExpired,
		TransitionCreated,
	}, kinds)
}

func TestResolve_RetriggerCreatesNewID(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	alert, _ := m.Raise(candidate("lead-1", model.AlertConversionOpportunity))
	_, err := m.Resolve(alert.ID)
	require.NoError(t, err)

	fresh, created := m.Raise(candidate("lead-1", model.AlertConversionOpportunity))
	assert.True(t, created)
	assert.NotEqual(t, alert.ID, fresh.ID)
}

func TestCAS_LoserGetsConflict(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	alert, _ := m.Raise(candidate("lead-1", model.AlertFollowUp))

	// Both operations read the alert as Open; the first to commit wins.
	_, err := m.AcknowledgeFrom(alert.ID, model.AlertOpen)
	require.NoError(t, err)

	_, err = m.ResolveFrom(alert.ID, model.AlertOpen)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, model.AlertOpen, conflict.Expected)
	assert.Equal(t, model.AlertAcknowledged, conflict.Actual)
}

func TestConcurrentMutations_ExactlyOneWinnerPerCAS(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	alert, _ := m.Raise(candidate("lead-1", model.AlertDrift))

	const goroutines = 16
	var wg sync.WaitGroup
	var acked, conflicted int64
	var mu sync.Mutex

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AcknowledgeFrom(alert.ID, model.AlertOpen)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				acked++
				return
			}
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				conflicted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), acked)
	assert.Equal(t, int64(goroutines-1), conflicted)
}

func TestGC_CollectsTerminalAlertsPastRetention(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	m := NewManager(WithNowFunc(now), WithRetention(time.Hour))
	defer m.Close()

	alert, _ := m.Raise(candidate("lead-1", model.AlertFollowUp))
	_, err := m.Resolve(alert.ID)
	require.NoError(t, err)

	// Within retention: kept.
	assert.Equal(t, 0, m.GC())

	mu.Lock()
	current = current.Add(2 * time.Hour)
	mu.Unlock()

	assert.Equal(t, 1, m.GC())
	_, err = m.Get(alert.ID)
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestResolveEntity(t *testing.T) {
	t.Parallel()
	m := NewManager()
	defer m.Close()

	m.Raise(candidate("lead-1", model.AlertConversionOpportunity))
	m.Raise(candidate("lead-1", model.AlertFollowUp))

	resolved := m.ResolveEntity("lead-1", model.AlertConversionOpportunity)
	require.Len(t, resolved, 1)
	assert.Equal(t, model.AlertResolved, resolved[0].State)

	// The other type is untouched.
	assert.True(t, m.ActiveFor("lead-1", model.AlertFollowUp))
	assert.False(t, m.ActiveFor("lead-1", model.AlertConversionOpportunity))
}

func TestListenerReceivesTransitions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []TransitionKind
	m := NewManager(WithListener(func(tr Transition) {
		mu.Lock()
		got = append(got, tr.Kind)
		mu.Unlock()
	}))
	defer m.Close()

	alert, _ := m.Raise(candidate("lead-1", model.AlertHealth))
	_, err := m.Acknowledge(alert.ID)
	require.NoError(t, err)
	_, err = m.Resolve(alert.ID)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []TransitionKind{TransitionCreated, TransitionAcknowledged, TransitionResolved}, got)
}
