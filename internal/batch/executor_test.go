package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("payment-%d", i)
	}
	return out
}

func TestExecutor_AggregatesOutcomes(t *testing.T) {
	e := New(10, 10, 30*time.Second, false, nil)
	res := e.Process(context.Background(), ids(15), func(_ context.Context, id string) error {
		if id == "payment-7" {
			return errors.New("insufficient funds")
		}
		return nil
	})

	if res.Total != 15 || res.Succeeded != 14 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.FailedIDs) != 1 || res.FailedIDs[0] != "payment-7" {
		t.Fatalf("expected failedIds [payment-7], got %v", res.FailedIDs)
	}
}

func TestExecutor_DeadlineCountsMissingAsFailed(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	e := New(1, 10, 80*time.Millisecond, false, nil)
	res := e.Process(context.Background(), []string{"a", "b", "slow", "c"}, func(_ context.Context, id string) error {
		if id == "slow" {
			<-block
		}
		return nil
	})

	if res.Total != 4 || res.Succeeded != 3 || res.Failed != 1 {
		t.Fatalf("unexpected partial result %+v", res)
	}
	if len(res.FailedIDs) != 1 || res.FailedIDs[0] != "slow" {
		t.Fatalf("expected failedIds [slow], got %v", res.FailedIDs)
	}
}

func TestExecutor_CancelOnDeadline(t *testing.T) {
	cancelled := make(chan struct{})
	e := New(1, 10, 50*time.Millisecond, true, nil)
	res := e.Process(context.Background(), []string{"a", "slow"}, func(ctx context.Context, id string) error {
		if id == "slow" {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		}
		return nil
	})

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight unit never observed cancellation")
	}
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecutor_PanicIsPerItemFailure(t *testing.T) {
	e := New(2, 4, 5*time.Second, false, nil)
	res := e.Process(context.Background(), ids(6), func(_ context.Context, id string) error {
		if id == "payment-3" {
			panic("corrupt payload")
		}
		return nil
	})
	if res.Succeeded != 5 || res.Failed != 1 {
		t.Fatalf("panic must only fail its own item, got %+v", res)
	}
	if len(res.FailedIDs) != 1 || res.FailedIDs[0] != "payment-3" {
		t.Fatalf("expected failedIds [payment-3], got %v", res.FailedIDs)
	}
}

func TestExecutor_EmptyInput(t *testing.T) {
	e := New(10, 10, time.Second, false, nil)
	res := e.Process(context.Background(), nil, func(context.Context, string) error {
		t.Fatal("unit function must not run for an empty batch")
		return nil
	})
	if res.Total != 0 || res.Succeeded != 0 || res.Failed != 0 {
		t.Fatalf("expected zero result, got %+v", res)
	}
}

func TestPartition(t *testing.T) {
	parts := partition(ids(25), 10)
	if len(parts) != 3 {
		t.Fatalf("expected 3 sub-batches, got %d", len(parts))
	}
	if len(parts[0]) != 10 || len(parts[1]) != 10 || len(parts[2]) != 5 {
		t.Fatalf("unexpected sub-batch sizes %d/%d/%d", len(parts[0]), len(parts[1]), len(parts[2]))
	}
}
