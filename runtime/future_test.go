package runtime

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/geleto/cascada/errors"
)

func TestFutureResolveOnce(t *testing.T) {
	f := NewFuture()
	if f.Ready() {
		t.Fatal("Ready() = true before Resolve")
	}
	f.Resolve(1, nil)
	f.Resolve(2, nil)
	v, err := f.Value()
	if err != nil || v != 1 {
		t.Errorf("Value() = %v, %v, want 1, nil", v, err)
	}
}

func TestFutureLinks(t *testing.T) {
	inner := NewFuture()
	outer := NewFuture()
	outer.Resolve(inner, nil)
	if outer.Ready() {
		t.Fatal("Ready() = true while the linked future is pending")
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		inner.Resolve("v", nil)
	}()
	v, err := outer.Await(context.Background())
	if err != nil || v != "v" {
		t.Errorf("Await() = %v, %v, want v, nil", v, err)
	}
	if !outer.Ready() {
		t.Error("Ready() = false after the chain resolved")
	}
}

func TestFutureAwaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFuture().Await(ctx)
	if !isCancelled(err) {
		t.Errorf("Await() error = %v, want cancelled", err)
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRender, Kind: errors.KindCancelled}) {
		t.Errorf("errors.Is(%v, cancelled) = false", err)
	}
}

func TestAwaitAllCombinesFailures(t *testing.T) {
	e1, e2 := stderrors.New("one"), stderrors.New("two")
	_, err := awaitAll(context.Background(), []*Future{Failed(e1), Resolved(1), Failed(e2)})
	p, ok := err.(*Poison)
	if !ok {
		t.Fatalf("awaitAll() error = %T, want *Poison", err)
	}
	if got := len(p.Errors()); got != 2 {
		t.Errorf("len(Errors()) = %d, want 2", got)
	}
	if !stderrors.Is(err, e2) {
		t.Error("errors.Is(poison, e2) = false")
	}
}

func TestNewPoison(t *testing.T) {
	e := stderrors.New("e")
	tests := []struct {
		name string
		errs []error
		want int
	}{
		{"none", nil, 0},
		{"nils", []error{nil, nil}, 0},
		{"single", []error{nil, e}, 1},
		{"duplicates", []error{e, e}, 1},
		{"nested", []error{NewPoison(e, stderrors.New("f")), stderrors.New("g")}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewPoison(tt.errs...)
			got := 0
			switch p := err.(type) {
			case nil:
			case *Poison:
				got = len(p.Errors())
			default:
				got = 1
			}
			if got != tt.want {
				t.Errorf("NewPoison() holds %d errors, want %d", got, tt.want)
			}
		})
	}
}

func TestTrackerWait(t *testing.T) {
	parent := NewTracker(nil)
	child := NewTracker(parent)
	done := make(chan struct{})
	child.Go(func() { <-done })
	if got := parent.Pending(); got != 1 {
		t.Errorf("parent.Pending() = %d, want 1", got)
	}
	close(done)
	if err := parent.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := child.Pending(); got != 0 {
		t.Errorf("child.Pending() = %d, want 0", got)
	}
}
