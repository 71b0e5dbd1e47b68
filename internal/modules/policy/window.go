package policy

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"dentalclinic/internal/domain"
	"dentalclinic/internal/pkg/apperr"
)

const (
	DefaultMinLeadTime = 15 * time.Minute
	DefaultMaxHorizon  = 60 * 24 * time.Hour
)

// Rules are the booking horizon limits.
type Rules struct {
	MinLeadTime time.Duration
	MaxHorizon  time.Duration
}

func DefaultRules() Rules {
	return Rules{MinLeadTime: DefaultMinLeadTime, MaxHorizon: DefaultMaxHorizon}
}

// CheckServiceWindow accepts scheduledAt when its local time of day falls in
// [window.StartOfDay, window.EndOfDay) and it lies between now+MinLeadTime and
// now+MaxHorizon, both inclusive.
func CheckServiceWindow(scheduledAt time.Time, window *domain.ServiceWindow, now time.Time, rules Rules) error {
	if window == nil || !window.Active {
		return apperr.Validation(apperr.CodeOutOfWindow, "virtual consultations are not being offered")
	}

	lead := scheduledAt.Sub(now)
	if lead < rules.MinLeadTime {
		return apperr.Validation(apperr.CodeOutOfWindow,
			fmt.Sprintf("appointments must be booked at least %s ahead", rules.MinLeadTime))
	}
	if lead > rules.MaxHorizon {
		return apperr.Validation(apperr.CodeOutOfWindow,
			fmt.Sprintf("appointments cannot be booked more than %s ahead", rules.MaxHorizon))
	}

	loc, err := time.LoadLocation(window.Timezone)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, apperr.CodeInternal, "service window timezone is invalid", err)
	}
	start, err := ParseClock(window.StartOfDay)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, apperr.CodeInternal, "service window start is invalid", err)
	}
	end, err := ParseClock(window.EndOfDay)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, apperr.CodeInternal, "service window end is invalid", err)
	}

	local := scheduledAt.In(loc)
	minute := local.Hour()*60 + local.Minute()
	if minute < start || minute >= end {
		return apperr.Validation(apperr.CodeOutOfWindow,
			fmt.Sprintf("virtual consultations run %s-%s %s", window.StartOfDay, window.EndOfDay, window.Timezone))
	}
	return nil
}

// ParseClock converts "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
