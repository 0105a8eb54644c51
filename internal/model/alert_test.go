package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlert_ActiveAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	t.Run("open is active", func(t *testing.T) {
		t.Parallel()
		a := &Alert{State: AlertOpen}
		assert.True(t, a.ActiveAt(now))
	})

	t.Run("acknowledged is active", func(t *testing.T) {
		t.Parallel()
		a := &Alert{State: AlertAcknowledged}
		assert.True(t, a.ActiveAt(now))
	})

	t.Run("snoozed before deadline is active", func(t *testing.T) {
		t.Parallel()
		a := &Alert{State: AlertSnoozed, SnoozedUntil: &future}
		assert.True(t, a.ActiveAt(now))
	})

	t.Run("snoozed past deadline is inactive", func(t *testing.T) {
		t.Parallel()
		a := &Alert{State: AlertSnoozed, SnoozedUntil: &past}
		assert.False(t, a.ActiveAt(now))
	})

	t.Run("snoozed without deadline is inactive", func(t *testing.T) {
		t.Parallel()
		a := &Alert{State: AlertSnoozed}
		assert.False(t, a.ActiveAt(now))
	})

	t.Run("resolved is inactive", func(t *testing.T) {
		t.Parallel()
		a := &Alert{State: AlertResolved}
		assert.False(t, a.ActiveAt(now))
	})
}

func TestSeverity_Rank(t *testing.T) {
	t.Parallel()

	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), Severity("bogus").Rank())
}

func TestSeverityLadder_Grade(t *testing.T) {
	t.Parallel()

	ladder := DefaultSeverityLadder()

	tests := []struct {
		name      string
		value     float64
		threshold float64
		want      Severity
	}{
		{"double threshold is critical", 0.10, 0.05, SeverityCritical},
		{"1.5x threshold is high", 0.075, 0.05, SeverityHigh},
		{"1.2x threshold is medium", 0.06, 0.05, SeverityMedium},
		{"just over threshold is low", 0.051, 0.05, SeverityLow},
		{"zero threshold falls back to low", 1.0, 0, SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ladder.Grade(tt.value, tt.threshold))
		})
	}
}

func TestLead_Active(t *testing.T) {
	t.Parallel()

	for _, status := range []LeadStatus{LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusNegotiating} {
		l := &Lead{Status: status}
		assert.True(t, l.Active(), "status %s", status)
	}
	for _, status := range []LeadStatus{LeadStatusConverted, LeadStatusLost, LeadStatusArchived} {
		l := &Lead{Status: status}
		assert.False(t, l.Active(), "status %s", status)
	}
}

func TestLead_DaysSinceContact(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	l := &Lead{LastContact: now.AddDate(0, 0, -9)}
	assert.Equal(t, 9, l.DaysSinceContact(now))

	none := &Lead{}
	assert.Equal(t, -1, none.DaysSinceContact(now))
}
