package tracer

import "testing"

func TestIdleByDefault(t *testing.T) {
	tr := New()
	if tr.Active() {
		t.Fatalf("expected tracer to start idle")
	}
	tr.Line("foo.go", 1) // ignored while idle
	if len(tr.Buffers()) != 0 {
		t.Fatalf("expected no data while idle")
	}
}

func TestMinimumDepthWins(t *testing.T) {
	tr := New()
	tr.Start()
	tr.Call() // depth 1
	tr.Line("foo.go", 10)
	tr.Call() // depth 2
	tr.Line("foo.go", 10)
	tr.Return() // back to depth 1
	tr.Line("foo.go", 10)
	tr.Stop()

	data := tr.Buffers()
	if got := data["foo.go"][10]; got != 1 {
		t.Fatalf("expected minimum depth 1, got %d", got)
	}
}

func TestStartClearsPreviousBuffers(t *testing.T) {
	tr := New()
	tr.Start()
	tr.Line("foo.go", 1)
	tr.Stop()
	if len(tr.Buffers()) != 1 {
		t.Fatalf("expected buffered data after first run")
	}

	tr.Start()
	if len(tr.Buffers()) != 0 {
		t.Fatalf("expected Start to clear buffers")
	}
	tr.Stop()
}

func TestUnwindRestoresStackOnException(t *testing.T) {
	tr := New()
	tr.Start()
	tr.Call() // depth 1
	tr.Call() // depth 2
	tr.Call() // depth 3
	// Exception propagates past two frames without explicit returns.
	tr.UnwindTo(1)
	tr.Line("foo.go", 5)
	tr.Stop()

	data := tr.Buffers()
	if got := data["foo.go"][5]; got != 1 {
		t.Fatalf("expected depth restored to 1 after unwind, got %d", got)
	}
}

func TestEntryPointDepthIsZero(t *testing.T) {
	tr := New()
	tr.Start()
	tr.Line("foo.go", 1)
	tr.Stop()
	if got := tr.Buffers()["foo.go"][1]; got != 0 {
		t.Fatalf("expected entry-point depth 0, got %d", got)
	}
}
