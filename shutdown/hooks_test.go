package shutdown

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/vinayprograms/winsys-mcp/errors"
)

func noopHook(ctx context.Context) error { return nil }

func TestHookRegistryInsertionOrder(t *testing.T) {
	r := NewHookRegistry()
	names := []string{"zeta", "alpha", "mid", "beta", "omega"}
	for _, n := range names {
		if err := r.RegisterPre(n, noopHook); err != nil {
			t.Fatalf("RegisterPre(%s): %v", n, err)
		}
	}

	got := r.Each(PhasePre)
	if len(got) != len(names) {
		t.Fatalf("expected %d hooks, got %d", len(names), len(got))
	}
	for i, h := range got {
		if h.Name != names[i] {
			t.Errorf("position %d: got %s, want %s", i, h.Name, names[i])
		}
		if h.Phase != PhasePre {
			t.Errorf("hook %s: phase %v", h.Name, h.Phase)
		}
	}
}

func TestHookRegistryDuplicateInSamePhase(t *testing.T) {
	r := NewHookRegistry()
	if err := r.RegisterTransport("stdio", noopHook); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.RegisterTransport("stdio", noopHook)
	if err == nil {
		t.Fatal("expected duplicate error")
	}
	if !stderrors.Is(err, ErrDuplicateHook) {
		t.Errorf("expected ErrDuplicateHook, got %v", err)
	}
	if !errors.Is(err, errors.ErrCodeAlreadyExists) {
		t.Errorf("expected ALREADY_EXISTS code, got %v", errors.Code(err))
	}
	if r.Len(PhaseTransport) != 1 {
		t.Errorf("duplicate must not be stored, len=%d", r.Len(PhaseTransport))
	}
}

func TestHookRegistrySameNameDifferentPhases(t *testing.T) {
	r := NewHookRegistry()
	for _, p := range []Phase{PhasePre, PhaseTransport, PhasePost} {
		if err := r.Register(p, "cleanup", noopHook); err != nil {
			t.Errorf("phase %v: %v", p, err)
		}
	}
}

func TestHookRegistryInvalid(t *testing.T) {
	r := NewHookRegistry()
	if err := r.RegisterPost("", noopHook); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("empty name: %v", err)
	}
	if err := r.RegisterPost("x", nil); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("nil hook: %v", err)
	}
	if got := r.Each(PhasePost); got != nil {
		t.Errorf("expected no hooks, got %v", got)
	}
}

func TestHookRegistryConcurrentRegister(t *testing.T) {
	r := NewHookRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.RegisterPost(fmt.Sprintf("hook-%d", i), noopHook)
		}(i)
	}
	wg.Wait()
	if r.Len(PhasePost) != 50 {
		t.Errorf("expected 50 hooks, got %d", r.Len(PhasePost))
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func TestConnectionTracker(t *testing.T) {
	tr := NewConnectionTracker()
	tr.Add("a", nopCloser{})
	tr.Add("b", nopCloser{})

	replacement := io.NopCloser(nil)
	tr.Add("a", replacement)
	if tr.Len() != 2 {
		t.Fatalf("Add must replace, len=%d", tr.Len())
	}

	snap := tr.Snapshot()
	if snap["a"] != replacement {
		t.Error("snapshot should hold the replacement closer")
	}

	// Remove of an unknown id is a no-op.
	tr.Remove("missing")
	tr.Remove("b")
	if tr.Len() != 1 {
		t.Errorf("expected 1 connection, got %d", tr.Len())
	}

	// The snapshot is independent of later mutations.
	if len(snap) != 2 {
		t.Errorf("snapshot changed after Remove: %d", len(snap))
	}
	snap["c"] = nopCloser{}
	if tr.Len() != 1 {
		t.Error("mutating a snapshot must not affect the tracker")
	}
}
