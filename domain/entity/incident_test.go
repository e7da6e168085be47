package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/firefighter/domain/entity"
)

func TestStatusOrdering(t *testing.T) {
	statuses := entity.Statuses()
	for i := 1; i < len(statuses); i++ {
		assert.True(t, statuses[i-1].Before(statuses[i]), "%s should precede %s", statuses[i-1], statuses[i])
	}
	assert.False(t, entity.StatusClosed.Before(entity.StatusMitigated))
}

func TestParseStatus(t *testing.T) {
	s, err := entity.ParseStatus("Post_Mortem")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPostMortem, s)

	_, err = entity.ParseStatus("resolved")
	assert.Error(t, err)
	assert.False(t, entity.Status(15).Valid())
	assert.Equal(t, "status(15)", entity.Status(15).String())
}

func TestEarlyClosureReasons(t *testing.T) {
	reasons := entity.EarlyClosureReasons()
	assert.NotContains(t, reasons, entity.ClosureReasonResolved)
	for _, r := range reasons {
		assert.True(t, r.Valid())
		assert.NotEmpty(t, r.Label())
	}
	assert.False(t, entity.ClosureReason("nope").Valid())
}

func TestLatestKeyEvents(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := base.Add(-2 * time.Hour)
	corrected := base.Add(-3 * time.Hour)
	updates := []entity.IncidentUpdate{
		{EventType: entity.KeyEventDetected, EventTS: &first, CreatedAt: base},
		{EventType: entity.KeyEventDetected, EventTS: &corrected, CreatedAt: base.Add(time.Minute)},
		{Message: "no event", CreatedAt: base.Add(2 * time.Minute)},
	}

	got := entity.LatestKeyEvents(updates)
	require.Len(t, got, 1)
	assert.Equal(t, corrected, got[entity.KeyEventDetected])
}
