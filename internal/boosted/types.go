// Package boosted detects changes of the daily boosted creature and boss and
// posts them to the configured chats.
package boosted

import (
	"context"
	"time"

	"tibiabot/internal/format"
	"tibiabot/internal/tibia"
	kit "tibiabot/internal/transport"
)

// State holds the last successfully posted names. Empty means "nothing posted yet".
type State struct {
	Creature string
	Boss     string
}

func (s State) Get(k tibia.Kind) string {
	if k == tibia.KindBoss {
		return s.Boss
	}
	return s.Creature
}

func (s State) with(k tibia.Kind, name string) State {
	if k == tibia.KindBoss {
		s.Boss = name
	} else {
		s.Creature = name
	}
	return s
}

// Targets maps each kind to its chat. A zero target disables that side.
type Targets struct {
	Creature kit.ChatTarget
	Boss     kit.ChatTarget
}

func (t Targets) For(k tibia.Kind) kit.ChatTarget {
	if k == tibia.KindBoss {
		return t.Boss
	}
	return t.Creature
}

// Trigger names what started a run.
type Trigger string

const (
	TriggerPrimary Trigger = "primary"
	TriggerBackup  Trigger = "backup"
	TriggerCatchUp Trigger = "catchup"
	TriggerManual  Trigger = "manual"
)

// Result summarizes a single detection run. Errors are human-readable, one per failure.
type Result struct {
	RunID   string
	Trigger Trigger
	Force   bool
	Boosted tibia.Boosted

	CreaturePosted bool
	BossPosted     bool
	// FetchFailed is set when the boosted data could not be fetched at all.
	FetchFailed bool
	Errors      []string

	Started  time.Time
	Finished time.Time
}

func (r Result) OK() bool { return len(r.Errors) == 0 }

func (r Result) Posted(k tibia.Kind) bool {
	if k == tibia.KindBoss {
		return r.BossPosted
	}
	return r.CreaturePosted
}

func (r Result) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Publisher delivers a payload to a chat. A nil error means the platform accepted it.
type Publisher interface {
	Publish(ctx context.Context, to kit.ChatTarget, p format.Payload) error
}

// StateStore persists State across restarts.
type StateStore interface {
	LoadState(ctx context.Context) (State, bool, error)
	SaveState(ctx context.Context, st State) error
}

// Observer receives run and post outcomes (metrics).
type Observer interface {
	ObserveRun(trigger string, ok bool, d time.Duration)
	ObservePost(kind, result string)
}
