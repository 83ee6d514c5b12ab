package timesheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempohq/tempo"
)

var january = FiscalMonth{Start: "2024-01-01", End: "2024-01-31"}

func openApproval(t *testing.T) *MonthlyApproval {
	t.Helper()
	m := NewMonthlyApproval(ApprovalID("alice", january.Start))
	require.NoError(t, m.Open("alice", january))
	return m
}

func TestApprovalID(t *testing.T) {
	id := ApprovalID("alice", "2024-01-01")
	assert.Equal(t, "alice_2024-01-01", id)

	member, start, err := ParseApprovalID("team_lead_2024-01-21")
	require.NoError(t, err)
	assert.Equal(t, "team_lead", member)
	assert.Equal(t, Date("2024-01-21"), start)

	for _, bad := range []string{"", "alice", "_2024-01-01", "alice_", "alice_2024-13-01"} {
		_, _, err := ParseApprovalID(bad)
		assert.ErrorIs(t, err, tempo.ErrValidationFailed, bad)
	}
}

func TestMonthlyApproval_Open(t *testing.T) {
	m := openApproval(t)
	assert.Equal(t, ApprovalPending, m.Status())
	assert.Equal(t, "alice", m.MemberID())
	assert.Equal(t, january, m.Month())

	assert.ErrorIs(t, m.Open("alice", january), tempo.ErrInvalidStateTransition)

	wrong := NewMonthlyApproval("bob_2024-01-01")
	assert.ErrorIs(t, wrong.Open("alice", january), tempo.ErrValidationFailed)

	bad := NewMonthlyApproval("alice_2024-02-01")
	assert.ErrorIs(t, bad.Open("alice", FiscalMonth{Start: "2024-02-01", End: "2024-01-01"}), tempo.ErrValidationFailed)
}

func TestMonthlyApproval_Workflow(t *testing.T) {
	t.Run("submit approve", func(t *testing.T) {
		m := openApproval(t)
		require.NoError(t, m.Submit([]string{"wl-1", "wl-2"}, []string{"ab-1"}))
		assert.Equal(t, ApprovalSubmitted, m.Status())
		assert.Equal(t, []string{"wl-1", "wl-2"}, m.State().WorkLogIDs)

		require.NoError(t, m.Approve("bob"))
		assert.Equal(t, ApprovalApproved, m.Status())
		assert.Equal(t, "bob", m.DecidedBy())
	})

	t.Run("submit reject resubmit", func(t *testing.T) {
		m := openApproval(t)
		require.NoError(t, m.Submit([]string{"wl-1"}, nil))
		require.NoError(t, m.Reject("bob", "missing hours"))
		assert.Equal(t, ApprovalRejected, m.Status())
		assert.Equal(t, "missing hours", m.RejectionReason())

		require.NoError(t, m.Submit([]string{"wl-1", "wl-3"}, nil))
		assert.Equal(t, ApprovalSubmitted, m.Status())
		assert.Empty(t, m.RejectionReason())
		assert.Equal(t, 2, m.State().Submissions)
	})

	t.Run("reject needs a reason", func(t *testing.T) {
		m := openApproval(t)
		require.NoError(t, m.Submit([]string{"wl-1"}, nil))
		err := m.Reject("bob", "  ")

		var verr *tempo.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "reason", verr.Field)
		assert.Equal(t, ApprovalSubmitted, m.Status())
	})

	t.Run("nothing to submit", func(t *testing.T) {
		m := openApproval(t)
		err := m.Submit(nil, nil)
		assert.ErrorIs(t, err, tempo.ErrValidationFailed)
		assert.Contains(t, err.Error(), "nothing to submit")
		assert.Equal(t, ApprovalPending, m.Status())
	})

	t.Run("invalid transitions", func(t *testing.T) {
		m := openApproval(t)
		assert.ErrorIs(t, m.Approve("bob"), tempo.ErrInvalidStateTransition)
		assert.ErrorIs(t, m.Reject("bob", "no"), tempo.ErrInvalidStateTransition)

		require.NoError(t, m.Submit([]string{"wl-1"}, nil))
		assert.ErrorIs(t, m.Submit([]string{"wl-2"}, nil), tempo.ErrInvalidStateTransition)

		require.NoError(t, m.Approve("bob"))
		assert.ErrorIs(t, m.Submit([]string{"wl-2"}, nil), tempo.ErrInvalidStateTransition)
		assert.ErrorIs(t, m.Reject("bob", "late"), tempo.ErrInvalidStateTransition)
		assert.ErrorIs(t, m.Approve("bob"), tempo.ErrInvalidStateTransition)

		unopened := NewMonthlyApproval("alice_2024-01-01")
		assert.ErrorIs(t, unopened.Submit([]string{"wl-1"}, nil), tempo.ErrInvalidStateTransition)
	})
}

func TestMonthlyApproval_StateIsACopy(t *testing.T) {
	m := openApproval(t)
	require.NoError(t, m.Submit([]string{"wl-1"}, nil))

	s := m.State()
	s.WorkLogIDs[0] = "changed"
	assert.Equal(t, []string{"wl-1"}, m.State().WorkLogIDs)
}
