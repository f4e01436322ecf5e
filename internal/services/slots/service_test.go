package slots

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_PerDateMap(t *testing.T) {
	raw := json.RawMessage(`{
		"2025-03-17": {"slots": ["2025-03-17T09:00:00Z", "2025-03-17T10:00:00Z"]},
		"2025-03-18": {"slots": ["2025-03-18T09:30:00Z"]},
		"traceId": "abc"
	}`)

	got, err := Normalize(raw, []string{"U1"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, s := range got {
		assert.Equal(t, "U1", s.RepID)
	}
}

func TestNormalize_FreeSlotsKey(t *testing.T) {
	raw := json.RawMessage(`{"freeSlots": ["2025-03-17T09:00:00Z"]}`)
	got, err := Normalize(raw, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "", got[0].RepID)
}

func TestNormalize_SlotsKeyWithObjects(t *testing.T) {
	raw := json.RawMessage(`{"slots": [
		{"startTime": "2025-03-17T09:00:00Z", "userId": "U7"},
		{"time": "2025-03-17T10:00:00Z"}
	]}`)

	got, err := Normalize(raw, []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "U7", got[0].RepID)
	// Missing identity filled by round-robin over the requested set.
	assert.Equal(t, "A", got[1].RepID)
}

func TestNormalize_BareArray(t *testing.T) {
	raw := json.RawMessage(`["2025-03-17T09:00:00Z", "2025-03-17T10:00:00Z", "2025-03-17T11:00:00Z"]`)

	got, err := Normalize(raw, []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].RepID)
	assert.Equal(t, "B", got[1].RepID)
	assert.Equal(t, "A", got[2].RepID)
}

func TestNormalize_Garbage(t *testing.T) {
	_, err := Normalize(json.RawMessage(`"just a string"`), nil)
	assert.Error(t, err)
}

func TestNormalize_EmptyObject(t *testing.T) {
	got, err := Normalize(json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
