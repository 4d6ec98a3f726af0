package scheduler

import (
	"context"
	"time"

	"tibiabot/internal/boosted"
)

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Config returns the effective config (defaults applied).
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// NextRunTime returns the primary job's next fire time. ok is false when not running.
func (s *Service) NextRunTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}, false
	}
	return s.nextLocked(boosted.TriggerPrimary)
}

func (s *Service) nextLocked(trigger boosted.Trigger) (time.Time, bool) {
	for _, j := range s.jobs {
		if j.trigger == trigger {
			next := j.sched.Next(s.now().In(s.loc))
			return next, !next.IsZero()
		}
	}
	return time.Time{}, false
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.c != nil, Timezone: formatZone(s.now().In(s.loc))}
	for _, j := range s.jobs {
		info := ScheduleInfo{Name: string(j.trigger), Spec: j.at.spec()}
		if s.c != nil {
			info.Next, _ = s.nextLocked(j.trigger)
			if j.entryID != 0 {
				info.Prev = s.c.Entry(j.entryID).Prev
			}
			if st.NextRun.IsZero() || info.Next.Before(st.NextRun) {
				st.NextRun = info.Next
			}
		}
		st.Jobs = append(st.Jobs, info)
	}
	return st
}

// TimezoneInfo renders the schedule timezone as of now, e.g. "CEST (UTC+02:00)".
func (s *Service) TimezoneInfo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return formatZone(s.now().In(s.loc))
}

// Location returns the schedule timezone.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// ForceCheck runs a check immediately with force=true.
// It shares the detector's single-flight gate with scheduled runs.
func (s *Service) ForceCheck(ctx context.Context) boosted.Result {
	return s.Check(ctx, true)
}
