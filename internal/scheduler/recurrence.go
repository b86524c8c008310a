package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
)

// Recurrence is the schedule shape of a cron expression.
type Recurrence struct {
	Frequency  models.Frequency
	TimeOfDay  string
	Weekday    *time.Weekday
	DayOfMonth int
}

// Apply copies the recurrence onto a schedule definition.
func (r Recurrence) Apply(def *models.ScheduleDefinition) {
	def.Frequency = r.Frequency
	def.TimeOfDay = r.TimeOfDay
	def.Weekday = r.Weekday
	def.DayOfMonth = r.DayOfMonth
}

// ParseRecurrence translates a five field cron expression or a descriptor
// such as "@daily" into a frequency. Only expressions that fire once per
// hour, day, week or month are accepted.
func ParseRecurrence(expr string) (Recurrence, error) {
	parsed, err := cron.ParseStandard(strings.TrimSpace(expr))
	if err != nil {
		return Recurrence{}, errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("invalid recurrence %q", expr))
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return Recurrence{}, errors.Newf(errors.ErrorTypeValidation, "recurrence %q is not calendar based", expr)
	}
	unsupported := errors.Newf(errors.ErrorTypeValidation,
		"recurrence %q does not fire once per hour, day, week or month", expr)

	minute, ok := single(spec.Minute, 0, 59)
	if !ok || !every(spec.Month, 1, 12) {
		return Recurrence{}, unsupported
	}
	anyDom, anyDow := every(spec.Dom, 1, 31), every(spec.Dow, 0, 6)

	if every(spec.Hour, 0, 23) {
		if !anyDom || !anyDow {
			return Recurrence{}, unsupported
		}
		return Recurrence{Frequency: models.FrequencyHourly, TimeOfDay: hhmm(0, minute)}, nil
	}
	hour, ok := single(spec.Hour, 0, 23)
	if !ok {
		return Recurrence{}, unsupported
	}

	r := Recurrence{TimeOfDay: hhmm(hour, minute)}
	switch {
	case anyDom && anyDow:
		r.Frequency = models.FrequencyDaily
	case anyDom:
		dow, ok := single(spec.Dow, 0, 6)
		if !ok {
			return Recurrence{}, unsupported
		}
		wd := time.Weekday(dow)
		r.Frequency = models.FrequencyWeekly
		r.Weekday = &wd
	case anyDow:
		dom, ok := single(spec.Dom, 1, 31)
		if !ok {
			return Recurrence{}, unsupported
		}
		r.Frequency = models.FrequencyMonthly
		r.DayOfMonth = dom
	default:
		return Recurrence{}, unsupported
	}
	return r, nil
}

// NextRun returns the first fire time of def strictly after now, evaluated
// in loc. Monthly schedules fire on the last day of shorter months.
func NextRun(def *models.ScheduleDefinition, now time.Time, loc *time.Location) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(def.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	var expr string
	switch def.Frequency {
	case models.FrequencyHourly:
		expr = fmt.Sprintf("%d * * * *", minute)
	case models.FrequencyDaily:
		expr = fmt.Sprintf("%d %d * * *", minute, hour)
	case models.FrequencyWeekly:
		weekday := time.Monday
		if def.Weekday != nil {
			weekday = *def.Weekday
		}
		expr = fmt.Sprintf("%d %d * * %d", minute, hour, weekday)
	case models.FrequencyMonthly:
		return nextMonthly(now, hour, minute, def.DayOfMonth, loc), nil
	default:
		return time.Time{}, errors.Newf(errors.ErrorTypeValidation, "invalid frequency %q", def.Frequency)
	}

	parsed, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build cron schedule")
	}
	spec := parsed.(*cron.SpecSchedule)
	spec.Location = loc
	return spec.Next(now), nil
}

func nextMonthly(now time.Time, hour, minute, day int, loc *time.Location) time.Time {
	if day <= 0 {
		day = 1
	}
	local := now.In(loc)
	for i := 0; ; i++ {
		first := time.Date(local.Year(), local.Month()+time.Month(i), 1, 0, 0, 0, 0, loc)
		last := first.AddDate(0, 1, -1).Day()
		d := day
		if d > last {
			d = last
		}
		candidate := time.Date(first.Year(), first.Month(), d, hour, minute, 0, 0, loc)
		if candidate.After(now) {
			return candidate
		}
	}
}

// parseTimeOfDay reads "HH:MM"; empty means midnight.
func parseTimeOfDay(s string) (int, int, error) {
	if s == "" {
		return 0, 0, nil
	}
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, errors.Newf(errors.ErrorTypeValidation, "time_of_day %q must be HH:MM", s)
	}
	hour, herr := strconv.Atoi(h)
	minute, merr := strconv.Atoi(m)
	if herr != nil || merr != nil || len(m) != 2 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, errors.Newf(errors.ErrorTypeValidation, "time_of_day %q must be HH:MM", s)
	}
	return hour, minute, nil
}

func hhmm(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// single returns the only bit set in [lo, hi].
func single(field uint64, lo, hi uint) (int, bool) {
	found := -1
	for i := lo; i <= hi; i++ {
		if field&(1<<i) == 0 {
			continue
		}
		if found >= 0 {
			return 0, false
		}
		found = int(i)
	}
	return found, found >= 0
}

func every(field uint64, lo, hi uint) bool {
	for i := lo; i <= hi; i++ {
		if field&(1<<i) == 0 {
			return false
		}
	}
	return true
}
