package domready

import "testing"

func TestRegistry_LoadOrStore(t *testing.T) {
	r := NewRegistry()
	fp := Fingerprint{Selectors: "nav"}

	a := newPending("a", fp)
	if got, loaded := r.loadOrStore(fp, a); loaded || got != a {
		t.Fatalf("first store: got (%v, %v)", got.ID(), loaded)
	}
	b := newPending("b", fp)
	if got, loaded := r.loadOrStore(fp, b); !loaded || got != a {
		t.Errorf("second store: got (%v, %v), want (a, true)", got.ID(), loaded)
	}

	a.settle(nil)
	if _, ok := r.Get(fp); ok {
		t.Error("a settled entry must not be returned")
	}
	if got, loaded := r.loadOrStore(fp, b); loaded || got != b {
		t.Errorf("store over settled: got (%v, %v), want (b, false)", got.ID(), loaded)
	}
}

func TestRegistry_DeleteIf(t *testing.T) {
	r := NewRegistry()
	fp := Fingerprint{Selectors: "nav"}
	a, b := newPending("a", fp), newPending("b", fp)

	r.Set(fp, b)
	if r.deleteIf(fp, a) {
		t.Error("deleteIf removed an entry it does not own")
	}
	if r.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", r.Len())
	}
	if !r.deleteIf(fp, b) {
		t.Error("deleteIf did not remove its own entry")
	}
	r.Set(fp, a)
	r.Delete(fp)
	if r.Len() != 0 {
		t.Errorf("Len: got %d, want 0", r.Len())
	}
}

func TestPending_SettleOnce(t *testing.T) {
	p := newPending("x", Fingerprint{})
	released := 0
	p.release = func(*Pending) { released++ }

	if !p.settle(nil) {
		t.Fatal("first settle must win")
	}
	if p.settle(nil) {
		t.Error("second settle must lose")
	}
	p.Stop()
	if released != 1 {
		t.Errorf("release: got %d calls, want 1", released)
	}
	if !p.Settled() {
		t.Error("Settled: got false")
	}
}
