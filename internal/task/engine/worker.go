package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"tibiabot/internal/eventbus"
	logx "tibiabot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, p *pool, idx int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))
	for {
		// A closed stop wins over queued work.
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case pt := <-p.queue:
			s.inFlight.Add(1)
			s.execOne(ctx, p.stop, pt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stop <-chan struct{}, pt pending, rng *rand.Rand) {
	defer pt.task.Gate.release()
	t := pt.task
	start := time.Now()
	queueDelay := max(start.Sub(pt.queued), 0)

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && queueDelay > maxDelay {
		s.dropStale(start, t, queueDelay)
		return
	}

	log := s.log.With(logx.String("task", t.Name), logx.String("task_id", t.ID))
	log.Debug("task started", logx.Duration("queue_delay", queueDelay))
	s.publish(eventbus.TypeTaskStarted, start, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay})

	var err error
	attempts := 0
retry:
	for attempts < 1+pt.retry.Max {
		attempts++
		err = s.attempt(ctx, pt, log)
		if err == nil {
			break
		}
		var final finalError
		if errors.As(err, &final) {
			err = final.err
			break
		}
		if attempts > pt.retry.Max {
			break
		}
		delay := backoff(pt.retry, attempts, rng)
		log.Info("task retry scheduled", logx.Int("attempt", attempts+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-tmr.C:
		case <-stop:
			tmr.Stop()
			err = fmt.Errorf("%w: %v", ErrStopping, err)
			break retry
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break retry
		}
	}

	dur := time.Since(start)
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		ev.Error = err.Error()
		log.Warn("task failed", logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(eventbus.TypeTaskFailed, time.Now(), ev)
	} else {
		log.Debug("task finished", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(eventbus.TypeTaskFinished, time.Now(), ev)
	}
	s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts, Error: ev.Error})
}

func (s *Service) dropStale(now time.Time, t Task, queueDelay time.Duration) {
	s.droppedStale.Add(1)
	s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: now, QueueDelay: queueDelay, Error: "stale_queue_delay"})
	s.publish(eventbus.TypeTaskDropped, now, TaskEvent{ID: t.ID, Name: t.Name, Started: now, QueueDelay: queueDelay, Error: "stale_queue_delay"})
	if warnDue(&s.warnedStale, now) {
		s.log.Warn("task dropped: waited too long in queue", logx.String("task", t.Name),
			logx.Duration("queue_delay", queueDelay), logx.Uint64("dropped_stale", s.droppedStale.Load()))
	}
}

// attempt runs t once under its timeout; a panic becomes an error.
func (s *Service) attempt(ctx context.Context, pt pending, log logx.Logger) (err error) {
	if pt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task panic", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 24)))
		}
	}()
	return pt.task.Run(ctx)
}

// backoff is the delay before retry n (1-based).
func backoff(r Retry, n int, rng *rand.Rand) time.Duration {
	d := r.Base
	for i := 1; i < n && d < r.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, r.MaxDelay)
	if r.Jitter > 0 && d > 0 && rng != nil {
		d = time.Duration(float64(d) * (1 + (rng.Float64()*2-1)*r.Jitter))
	}
	return min(max(d, 0), r.MaxDelay)
}
