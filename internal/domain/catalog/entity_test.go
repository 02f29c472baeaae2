package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShow_IsBookingOpen(t *testing.T) {
	starts := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)
	s := &Show{ID: "show-1", Title: "Night Film", StartsAt: starts, Capacity: 10}

	assert.True(t, s.IsBookingOpen(starts.Add(-time.Minute)))
	assert.False(t, s.IsBookingOpen(starts))
	assert.False(t, s.IsBookingOpen(starts.Add(time.Hour)))
}

func TestShow_Validate(t *testing.T) {
	tests := []struct {
		name        string
		show        Show
		expectedErr error
	}{
		{"有効な上映回", Show{ID: "s", Title: "t", Capacity: 1}, nil},
		{"IDが空", Show{Title: "t", Capacity: 1}, ErrShowIDRequired},
		{"タイトルが空", Show{ID: "s", Capacity: 1}, ErrTitleRequired},
		{"定員が0", Show{ID: "s", Title: "t"}, ErrInvalidCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.show.Validate()
			if tt.expectedErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expectedErr)
			}
		})
	}
}
