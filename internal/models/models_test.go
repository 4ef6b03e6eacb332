package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULID_ParseAndString(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())
	assert.Len(t, id.String(), 26)

	parsed, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseULID("not-a-valid-ulid")
	assert.ErrorContains(t, err, "invalid ULID")
}

func TestULID_Scan(t *testing.T) {
	id := NewULID()

	tests := []struct {
		name      string
		input     any
		expected  ULID
		expectErr bool
	}{
		{"nil sets zero", nil, ULID{}, false},
		{"string", id.String(), id, false},
		{"bytes", []byte(id.String()), id, false},
		{"empty string", "", ULID{}, false},
		{"invalid", "bad-ulid", ULID{}, true},
		{"unsupported type", 42, ULID{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u ULID
			err := u.Scan(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u)
		})
	}
}

func TestULID_JSON(t *testing.T) {
	id := NewULID()
	data, err := json.Marshal(struct {
		ID ULID `json:"id"`
	}{id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(data))

	data, err = json.Marshal(ULID{})
	require.NoError(t, err)
	assert.Equal(t, `""`, string(data))
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	m := &BaseModel{}
	require.NoError(t, m.BeforeCreate(nil))
	assert.False(t, m.ID.IsZero())

	existing := NewULID()
	m = &BaseModel{ID: existing}
	require.NoError(t, m.BeforeCreate(nil))
	assert.Equal(t, existing, m.ID)
}

func TestMotionEvent_Validate(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	end := start.Add(12 * time.Second)
	early := start.Add(-time.Second)

	tests := []struct {
		name    string
		event   MotionEvent
		wantErr string
	}{
		{"active", MotionEvent{Stream: "cam1", StartedAt: start, Status: MotionEventActive}, ""},
		{"complete", MotionEvent{Stream: "cam1", StartedAt: start, EndedAt: &end, Status: MotionEventComplete}, ""},
		{"missing stream", MotionEvent{StartedAt: start}, "stream"},
		{"ends early", MotionEvent{Stream: "cam1", StartedAt: start, EndedAt: &early}, "ended_at"},
		{"bad status", MotionEvent{Stream: "cam1", StartedAt: start, Status: "paused"}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr ErrValidation
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestMotionEvent_Duration(t *testing.T) {
	start := time.Now()
	ev := MotionEvent{StartedAt: start}
	assert.Zero(t, ev.Duration())

	end := start.Add(3 * time.Second)
	ev.EndedAt = &end
	assert.Equal(t, 3*time.Second, ev.Duration())
}
