package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"tibiabot/internal/boosted"
	"tibiabot/internal/tibia"
)

type fakeOneShot struct {
	forces []bool
	res    boosted.Result
	closed bool
}

func (f *fakeOneShot) CheckOnce(_ context.Context, force bool) boosted.Result {
	f.forces = append(f.forces, force)
	r := f.res
	r.Force = force
	return r
}

func (f *fakeOneShot) NextInfo(time.Time) string { return "next server save in 3h" }

func (f *fakeOneShot) Close() error {
	f.closed = true
	return nil
}

func runCLI(t *testing.T, fake *fakeOneShot, args ...string) (string, error) {
	t.Helper()
	prev := openOneShot
	var gotPath string
	openOneShot = func(cfgPath string) (oneShot, error) {
		gotPath = cfgPath
		return fake, nil
	}
	t.Cleanup(func() { openOneShot = prev })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if gotPath != "test.yaml" {
		t.Fatalf("config path = %q", gotPath)
	}
	return out.String(), err
}

func TestCheckForcesByDefault(t *testing.T) {
	fake := &fakeOneShot{res: boosted.Result{
		Boosted:        tibia.Boosted{Creature: "Dragon", Boss: "Ferumbras"},
		CreaturePosted: true,
		BossPosted:     true,
	}}
	out, err := runCLI(t, fake, "check", "--config", "test.yaml")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fake.forces) != 1 || !fake.forces[0] {
		t.Fatalf("forces = %v, want [true]", fake.forces)
	}
	if !strings.Contains(out, "creature: Dragon (posted=true)") || !strings.Contains(out, "boss:     Ferumbras (posted=true)") {
		t.Fatalf("output = %q", out)
	}
	if !fake.closed {
		t.Fatal("app not closed")
	}
}

func TestCheckChangedOnlyDoesNotForce(t *testing.T) {
	fake := &fakeOneShot{}
	if _, err := runCLI(t, fake, "check", "--changed-only", "-c", "test.yaml"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fake.forces) != 1 || fake.forces[0] {
		t.Fatalf("forces = %v, want [false]", fake.forces)
	}
}

func TestCheckReportsErrors(t *testing.T) {
	fake := &fakeOneShot{res: boosted.Result{Errors: []string{"fetch boosted: api down"}}}
	out, err := runCLI(t, fake, "check", "-c", "test.yaml")
	if err == nil || !strings.Contains(err.Error(), "1 error(s)") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out, "error: fetch boosted: api down") {
		t.Fatalf("output = %q", out)
	}
}

func TestNextPrintsInfo(t *testing.T) {
	fake := &fakeOneShot{}
	out, err := runCLI(t, fake, "next", "-c", "test.yaml")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if strings.TrimSpace(out) != "next server save in 3h" {
		t.Fatalf("output = %q", out)
	}
	if len(fake.forces) != 0 {
		t.Fatal("next must not run a check")
	}
}
