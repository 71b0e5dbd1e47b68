package policy

import (
	"testing"
	"time"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/pkg/apperr"

	"github.com/stretchr/testify/assert"
)

func window(tz string) *domain.ServiceWindow {
	return &domain.ServiceWindow{StartOfDay: "09:00", EndOfDay: "18:00", Timezone: tz, Active: true}
}

func TestCheckServiceWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	rules := DefaultRules()

	tests := []struct {
		name   string
		at     time.Time
		window *domain.ServiceWindow
		ok     bool
	}{
		{"inside window", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), window("UTC"), true},
		{"exactly at start", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), window("UTC"), true},
		{"exactly at end is excluded", time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC), window("UTC"), false},
		{"one minute before end", time.Date(2025, 3, 1, 17, 59, 0, 0, time.UTC), window("UTC"), true},
		{"before start", time.Date(2025, 3, 2, 8, 59, 0, 0, time.UTC), window("UTC"), false},
		{"local projection", time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC), window("Asia/Kolkata"), false},
		{"local projection inside", time.Date(2025, 3, 2, 3, 30, 0, 0, time.UTC), window("Asia/Kolkata"), true},
		{"beyond horizon", now.Add(61 * 24 * time.Hour).Truncate(24 * time.Hour).Add(10 * time.Hour), window("UTC"), false},
		{"no window", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), nil, false},
		{"inactive window", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), &domain.ServiceWindow{StartOfDay: "09:00", EndOfDay: "18:00", Timezone: "UTC"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckServiceWindow(tt.at, tt.window, now, rules)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperr.CodeOutOfWindow, apperr.CodeOf(err))
		})
	}
}

func TestCheckServiceWindow_MinLeadTimeBoundary(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 45, 0, 0, time.UTC)
	w := window("UTC")

	assert.NoError(t, CheckServiceWindow(now.Add(15*time.Minute), w, now, DefaultRules()))

	err := CheckServiceWindow(now.Add(14*time.Minute), w, now, DefaultRules())
	assert.Equal(t, apperr.CodeOutOfWindow, apperr.CodeOf(err))
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:30")
	assert.NoError(t, err)
	assert.Equal(t, 570, m)

	_, err = ParseClock("9.30")
	assert.Error(t, err)
}
