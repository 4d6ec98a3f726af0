package boosted

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tibiabot/internal/eventbus"
	"tibiabot/internal/format"
	"tibiabot/internal/storage"
	"tibiabot/internal/tibia"
	kit "tibiabot/internal/transport"
	logx "tibiabot/pkg/logx"
)

var kinds = [...]tibia.Kind{tibia.KindCreature, tibia.KindBoss}

type Option func(*Detector)

func WithStateStore(st StateStore) Option { return func(d *Detector) { d.store = st } }

// WithPostLog records every publish attempt.
func WithPostLog(st storage.Store) Option { return func(d *Detector) { d.posts = st } }

func WithObserver(o Observer) Option { return func(d *Detector) { d.obs = o } }

func WithBus(b eventbus.Bus) Option { return func(d *Detector) { d.bus = b } }

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// Detector owns the boosted State. Run is single-flight: scheduled and manual
// runs queue on the same gate, so State has a single writer at any time.
type Detector struct {
	src tibia.DataSource
	pub Publisher
	log logx.Logger

	store StateStore
	posts storage.Store
	obs   Observer
	bus   eventbus.Bus
	now   func() time.Time
	newID func() string

	runMu  sync.Mutex // single-flight gate
	loaded bool       // guarded by runMu

	mu      sync.RWMutex
	state   State
	targets Targets
	last    *Result
}

func NewDetector(src tibia.DataSource, pub Publisher, targets Targets, log logx.Logger, opts ...Option) *Detector {
	d := &Detector{
		src:     src,
		pub:     pub,
		log:     log,
		targets: targets,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		if o != nil {
			o(d)
		}
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	return d
}

// State returns a snapshot of the last posted names.
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Detector) Targets() Targets {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.targets
}

// SetTargets swaps chat targets (config reload). It takes effect on the next run.
func (d *Detector) SetTargets(t Targets) {
	d.mu.Lock()
	d.targets = t
	d.mu.Unlock()
}

// LastResult returns the most recent completed run.
func (d *Detector) LastResult() (Result, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Result{}, false
	}
	return *d.last, true
}

// Run executes one detection pass. force posts both sides regardless of State.
func (d *Detector) Run(ctx context.Context, force bool) Result {
	return d.RunWith(ctx, TriggerManual, force)
}

// RunWith is Run with an explicit trigger label.
//
// It never panics and never returns a Go error; every failure ends up in Result.Errors.
func (d *Detector) RunWith(ctx context.Context, trigger Trigger, force bool) (res Result) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	res = Result{
		RunID:   d.newID(),
		Trigger: trigger,
		Force:   force,
		Started: d.now(),
	}
	log := d.log.With(
		logx.String("run_id", res.RunID),
		logx.String("trigger", string(trigger)),
		logx.Bool("force", force),
	)
	defer d.finish(log, &res)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during check", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 16)))
			res.Errors = append(res.Errors, fmt.Sprintf("internal error: %v", r))
		}
	}()

	d.loadStateLocked(ctx, log)

	b, err := d.src.FetchBoosted(ctx)
	if err != nil {
		log.Error("fetch boosted failed", logx.Err(err))
		res.Errors = append(res.Errors, "fetch boosted: "+err.Error())
		res.FetchFailed = true
		return res
	}
	res.Boosted = b

	targets := d.Targets()
	for _, k := range kinds {
		posted, err := d.evaluate(ctx, log, res.RunID, force, k, b.Name(k), targets.For(k))
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
		if k == tibia.KindBoss {
			res.BossPosted = posted
		} else {
			res.CreaturePosted = posted
		}
	}
	return res
}

// evaluate handles one side. A panic here is converted to an error so the other side still runs.
func (d *Detector) evaluate(ctx context.Context, log logx.Logger, runID string, force bool, k tibia.Kind, name string, to kit.ChatTarget) (posted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while posting", logx.String("kind", k.String()), logx.Any("panic", r),
				logx.Stack(logx.StackTrace(3, 16)))
			posted, err = false, fmt.Errorf("%s: internal error: %v", k, r)
		}
	}()

	name = strings.TrimSpace(name)
	log = log.With(logx.String("kind", k.String()), logx.String("name", name))
	if name == "" {
		log.Debug("no boosted entity reported; skipping")
		return false, nil
	}
	if to.IsZero() {
		log.Warn("no chat configured; skipping")
		d.observePost(k, "skipped")
		return false, nil
	}
	if !force && d.State().Get(k) == name {
		log.Debug("unchanged; nothing to post")
		d.observePost(k, "unchanged")
		return false, nil
	}

	details := d.src.FetchDetails(ctx, k, name)
	if strings.TrimSpace(details.Name) == "" {
		details.Name = name
	}
	payload := format.Build(details, k)

	start := d.now()
	perr := d.pub.Publish(ctx, to, payload)
	d.recordPost(ctx, log, storage.PostRecord{
		At:       start,
		RunID:    runID,
		Kind:     k.String(),
		Name:     name,
		ChatID:   to.ChatID,
		ThreadID: to.ThreadID,
		Forced:   force,
		OK:       perr == nil,
		Error:    errString(perr),
		TookMS:   d.now().Sub(start).Milliseconds(),
	})
	if perr != nil {
		log.Error("publish failed; state unchanged", logx.Int64("chat_id", to.ChatID), logx.Err(perr))
		d.observePost(k, "failed")
		return false, fmt.Errorf("%s: publish %q: %w", k, name, perr)
	}

	d.advance(ctx, log, k, name)
	d.observePost(k, "posted")
	log.Info("boosted posted",
		logx.Int64("chat_id", to.ChatID),
		logx.String("source", details.Source.String()),
	)
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeBoostedPosted, Data: map[string]any{
			"run_id": runID, "kind": k.String(), "name": name,
		}})
	}
	return true, nil
}

func (d *Detector) advance(ctx context.Context, log logx.Logger, k tibia.Kind, name string) {
	d.mu.Lock()
	d.state = d.state.with(k, name)
	st := d.state
	d.mu.Unlock()

	if d.store == nil {
		return
	}
	if err := d.store.SaveState(context.WithoutCancel(ctx), st); err != nil {
		log.Warn("persist state failed", logx.Err(err))
	}
}

func (d *Detector) loadStateLocked(ctx context.Context, log logx.Logger) {
	if d.loaded || d.store == nil {
		d.loaded = true
		return
	}
	st, ok, err := d.store.LoadState(ctx)
	if err != nil {
		log.Warn("load persisted state failed; will retry next run", logx.Err(err))
		return
	}
	d.loaded = true
	if !ok {
		return
	}
	d.mu.Lock()
	d.state = st
	d.mu.Unlock()
	log.Info("restored boosted state", logx.String("creature", st.Creature), logx.String("boss", st.Boss))
}

func (d *Detector) recordPost(ctx context.Context, log logx.Logger, r storage.PostRecord) {
	if d.posts == nil {
		return
	}
	if err := d.posts.AppendPost(context.WithoutCancel(ctx), r); err != nil && !errors.Is(err, storage.ErrDisabled) {
		log.Debug("post log append failed", logx.Err(err))
	}
}

func (d *Detector) finish(log logx.Logger, res *Result) {
	res.Finished = d.now()

	cp := *res
	cp.Errors = append([]string(nil), res.Errors...)
	d.mu.Lock()
	d.last = &cp
	d.mu.Unlock()

	if d.obs != nil {
		d.obs.ObserveRun(string(res.Trigger), res.OK(), res.Duration())
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeBoostedRun, Time: res.Finished, Data: cp})
	}

	fields := []logx.Field{
		logx.Bool("creature_posted", res.CreaturePosted),
		logx.Bool("boss_posted", res.BossPosted),
		logx.Int("errors", len(res.Errors)),
		logx.Duration("took", res.Duration()),
	}
	switch {
	case !res.OK():
		log.Warn("check finished with errors", append(fields, logx.Any("error_list", res.Errors))...)
	case !res.CreaturePosted && !res.BossPosted:
		log.Info("check finished; no changes detected", fields...)
	default:
		log.Info("check finished", fields...)
	}
}

func (d *Detector) observePost(k tibia.Kind, result string) {
	if d.obs != nil {
		d.obs.ObservePost(k.String(), result)
	}
}

// Current builds today's payload for k without touching State or posting anything.
func (d *Detector) Current(ctx context.Context, k tibia.Kind) (format.Payload, error) {
	b, err := d.src.FetchBoosted(ctx)
	if err != nil {
		return format.Payload{}, err
	}
	name := strings.TrimSpace(b.Name(k))
	if name == "" {
		return format.Payload{}, fmt.Errorf("no boosted %s reported", k)
	}
	details := d.src.FetchDetails(ctx, k, name)
	if strings.TrimSpace(details.Name) == "" {
		details.Name = name
	}
	return format.Build(details, k), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
