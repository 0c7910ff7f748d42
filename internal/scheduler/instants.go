package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zubot/central/internal/coredb"
)

// cronParser builds the same 5-field (minute hour dom month dow) expressions
// the teacher's internal/cronjob/schedule.go uses for its "cron" schedule
// type, reused here to expand calendar-mode time_of_day x day_of_week
// combinations.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// maxEnumeratedInstants bounds how many missed fire instants a single tick
// will enumerate for one schedule, so a schedule that has been disabled (or
// the daemon down) for a long time cannot make one tick unboundedly slow.
// Anything beyond this cap is silently covered by advancing the cursor past
// it; queue_all callers lose fidelity on an extreme backlog, which is an
// acceptable trade against a stalled Heartbeat.
const maxEnumeratedInstants = 500

// missedInstants returns the ordered fire instants for sch strictly after
// windowStart and up to and including now, plus the schedule's next future
// fire instant (strictly after now). windowStart is sch.LastPlannedRunAt if
// set, otherwise a synthetic point before sch.NextRunAt so the schedule's own
// first fire is included.
func missedInstants(sch coredb.Schedule, now time.Time) (instants []time.Time, next time.Time, err error) {
	switch sch.Mode {
	case coredb.ModeFrequency:
		return frequencyInstants(sch, now)
	case coredb.ModeCalendar:
		return calendarInstants(sch, now)
	default:
		return nil, time.Time{}, fmt.Errorf("unknown schedule mode %q", sch.Mode)
	}
}

func frequencyInstants(sch coredb.Schedule, now time.Time) ([]time.Time, time.Time, error) {
	if sch.RunFrequencyMinutes <= 0 {
		return nil, time.Time{}, fmt.Errorf("run_frequency_minutes must be positive, got %d", sch.RunFrequencyMinutes)
	}
	step := time.Duration(sch.RunFrequencyMinutes) * time.Minute

	var instants []time.Time
	t := sch.NextRunAt
	for !t.After(now) && len(instants) < maxEnumeratedInstants {
		instants = append(instants, t)
		t = t.Add(step)
	}
	for !t.After(now) {
		t = t.Add(step)
	}
	return instants, t, nil
}

func calendarInstants(sch coredb.Schedule, now time.Time) ([]time.Time, time.Time, error) {
	loc := time.UTC
	if sch.Timezone != "" {
		l, err := time.LoadLocation(sch.Timezone)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("load timezone %q: %w", sch.Timezone, err)
		}
		loc = l
	}

	schedules, err := calendarCronSchedules(sch, loc)
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(schedules) == 0 {
		return nil, time.Time{}, fmt.Errorf("calendar schedule has no time_of_day entries")
	}

	windowStart := sch.NextRunAt.Add(-time.Second)
	if sch.LastPlannedRunAt != nil {
		windowStart = *sch.LastPlannedRunAt
	}

	var all []time.Time
	for _, cs := range schedules {
		t := windowStart
		for {
			t = cs.Next(t)
			if t.IsZero() || t.After(now) || len(all) >= maxEnumeratedInstants {
				break
			}
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })

	next := time.Time{}
	for _, cs := range schedules {
		n := cs.Next(now)
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return all, next, nil
}

func calendarCronSchedules(sch coredb.Schedule, loc *time.Location) ([]cron.Schedule, error) {
	dowExpr := "*"
	if len(sch.DayOfWeek) > 0 {
		dowExpr = joinInts(sch.DayOfWeek)
	}

	var out []cron.Schedule
	for _, tod := range sch.TimeOfDay {
		hh, mm, err := parseTimeOfDay(tod)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sch.ScheduleID, err)
		}
		expr := fmt.Sprintf("%d %d * * %s", mm, hh, dowExpr)
		cs, err := cronParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: parse cron expr %q: %w", sch.ScheduleID, expr, err)
		}
		out = append(out, &locatedSchedule{inner: cs, loc: loc})
	}
	return out, nil
}

// locatedSchedule evaluates an underlying cron.Schedule in loc, converting
// times in and out of UTC so the Store (which only stores UTC timestamps)
// never has to know about the schedule's timezone.
type locatedSchedule struct {
	inner cron.Schedule
	loc   *time.Location
}

func (l *locatedSchedule) Next(t time.Time) time.Time {
	return l.inner.Next(t.In(l.loc)).UTC()
}

func parseTimeOfDay(s string) (hh, mm int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, 0, fmt.Errorf("invalid time_of_day %q: %w", s, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid time_of_day %q", s)
	}
	return hh, mm, nil
}

func joinInts(vs []int) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", v)
	}
	return out
}
