package supervisor

import (
	"context"
	"testing"
	"time"
)

func TestRegistryHealth(t *testing.T) {
	r := NewRegistry()
	idle := New(context.Background())
	busy := New(context.Background())
	defer busy.Cancel()
	busy.Go0("worker", func(ctx context.Context) { <-ctx.Done() })
	flaky := New(context.Background())
	flaky.Go0("job", func(context.Context) { panic("bad") })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = flaky.Wait(ctx)

	r.Set("notifier", busy)
	r.Set("engine", idle)
	r.Set("adapter", flaky)
	r.Set("engine", nil)

	h := r.Health()
	if len(h) != 2 || h[0].Name != "adapter" || h[1].Name != "notifier" {
		t.Fatalf("health = %+v", h)
	}
	if h[0].Panics != 1 || h[0].Err == "" {
		t.Fatalf("adapter = %+v", h[0])
	}
	if h[1].Active != 1 {
		t.Fatalf("notifier = %+v", h[1])
	}

	r.Delete("adapter")
	if h := r.Health(); len(h) != 1 {
		t.Fatalf("after Delete = %+v", h)
	}
	var nilReg *Registry
	nilReg.Set("x", idle)
	if nilReg.Health() != nil {
		t.Fatal("nil registry should report nothing")
	}
}
