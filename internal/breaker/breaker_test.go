package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/kapetan-io/tackle/clock"
)

var errBank = errors.New("bank rejected payment")

func failing() func() error {
	return func() error { return errBank }
}

func TestRegistry_OpensAfterThreshold(t *testing.T) {
	clock.Freeze(clock.Now())
	defer clock.UnFreeze()

	r := New(5, 60*time.Second, nil)
	for i := 0; i < 5; i++ {
		if err := r.Execute("bank-a", failing()); !errors.Is(err, errBank) {
			t.Fatalf("call %d: expected bank error, got %v", i, err)
		}
	}

	invoked := false
	err := r.Execute("bank-a", func() error { invoked = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Fatal("wrapped function must not run while the circuit is open")
	}

	st := r.Snapshot()["bank-a"]
	if st.State != "OPEN" || st.Failures != 5 {
		t.Fatalf("unexpected snapshot %+v", st)
	}
}

func TestRegistry_HalfOpenSuccessCloses(t *testing.T) {
	clock.Freeze(clock.Now())
	defer clock.UnFreeze()

	r := New(5, 60*time.Second, nil)
	for i := 0; i < 5; i++ {
		_ = r.Execute("bank-a", failing())
	}

	clock.Advance(59 * time.Second)
	if err := r.Execute("bank-a", failing()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("before the cooldown the circuit must stay open, got %v", err)
	}

	clock.Advance(1 * time.Second)
	invoked := false
	if err := r.Execute("bank-a", func() error { invoked = true; return nil }); err != nil {
		t.Fatalf("trial call should succeed, got %v", err)
	}
	if !invoked {
		t.Fatal("trial call was not forwarded")
	}

	st := r.Snapshot()["bank-a"]
	if st.State != "CLOSED" || st.Failures != 0 {
		t.Fatalf("success in HALF_OPEN must close and reset, got %+v", st)
	}
}

func TestRegistry_HalfOpenFailureReopens(t *testing.T) {
	clock.Freeze(clock.Now())
	defer clock.UnFreeze()

	r := New(5, 60*time.Second, nil)
	for i := 0; i < 5; i++ {
		_ = r.Execute("bank-a", failing())
	}
	clock.Advance(60 * time.Second)

	if err := r.Execute("bank-a", failing()); !errors.Is(err, errBank) {
		t.Fatalf("trial call should be forwarded, got %v", err)
	}
	// Failed trial reopens with a fresh cooldown.
	if err := r.Execute("bank-a", failing()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected reopened circuit, got %v", err)
	}
	clock.Advance(59 * time.Second)
	if err := r.Execute("bank-a", failing()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("cooldown must restart from the trial failure, got %v", err)
	}
}

func TestRegistry_SingleTrialPerReopen(t *testing.T) {
	clock.Freeze(clock.Now())
	defer clock.UnFreeze()

	r := New(5, 60*time.Second, nil)
	for i := 0; i < 5; i++ {
		_ = r.Execute("bank-a", failing())
	}
	clock.Advance(60 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- r.Execute("bank-a", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// While the trial is in flight, nobody else gets through.
	if err := r.Execute("bank-a", func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected second caller to be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	clock.Freeze(clock.Now())
	defer clock.UnFreeze()

	r := New(5, 60*time.Second, nil)
	for i := 0; i < 5; i++ {
		_ = r.Execute("bank-a", failing())
	}
	if err := r.Execute("bank-b", func() error { return nil }); err != nil {
		t.Fatalf("bank-b must be unaffected by bank-a failures, got %v", err)
	}
}

func TestRegistry_SuccessResetsCounter(t *testing.T) {
	r := New(5, 60*time.Second, nil)
	for i := 0; i < 4; i++ {
		_ = r.Execute("bank-a", failing())
	}
	if err := r.Execute("bank-a", func() error { return nil }); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	// Four more failures should not open the circuit (counter was reset).
	for i := 0; i < 4; i++ {
		_ = r.Execute("bank-a", failing())
	}
	if err := r.Execute("bank-a", func() error { return nil }); err != nil {
		t.Fatalf("circuit should still be closed, got %v", err)
	}
}
