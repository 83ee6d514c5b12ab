package tempo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadata(t *testing.T) {
	var m Metadata
	assert.True(t, m.IsEmpty())

	m = m.WithUserID("alice").WithCorrelationID("corr-1").WithCausationID("SubmitMonth").WithTenantID("acme")
	assert.False(t, m.IsEmpty())
	assert.Equal(t, "alice", m.UserID)
	assert.Equal(t, "corr-1", m.CorrelationID)
	assert.Equal(t, "SubmitMonth", m.CausationID)
	assert.Equal(t, "acme", m.TenantID)

	first := m.WithCustom("source", "cli")
	second := first.WithCustom("host", "build-7")
	assert.Equal(t, map[string]string{"source": "cli"}, first.Custom, "WithCustom copies the map")
	assert.Len(t, second.Custom, 2)
}

func TestMetadataFrom(t *testing.T) {
	assert.True(t, MetadataFrom(context.Background()).IsEmpty())

	ctx := WithActor(context.Background(), "alice")
	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithCausationID(ctx, "ApproveMonth")

	assert.Equal(t, Metadata{UserID: "alice", CorrelationID: "corr-1", CausationID: "ApproveMonth"}, MetadataFrom(ctx))
}

func TestEventFromStored(t *testing.T) {
	stored := StoredEvent{
		ID:             "evt-1",
		AggregateID:    "t-1",
		AggregateType:  tallyType,
		Type:           "TallyAdded",
		Data:           []byte(`{"minutes":5}`),
		Metadata:       Metadata{UserID: "alice"},
		Version:        2,
		GlobalPosition: 7,
		OccurredAt:     fixedNow,
	}

	event := EventFromStored(stored, TallyAdded{Minutes: 5})
	assert.Equal(t, TallyAdded{Minutes: 5}, event.Data)
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, int64(2), event.Version)
	assert.Equal(t, uint64(7), event.GlobalPosition)
	assert.Equal(t, "alice", event.Metadata.UserID)
	assert.Equal(t, fixedNow, event.OccurredAt)
}
