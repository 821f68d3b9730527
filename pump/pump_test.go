package pump_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftlabs/pylon/pump"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func TestPullPreservesOrder(t *testing.T) {
	defer leaktest.Check(t)()
	buf := pump.NewBuffer[int]()
	for i := range 10 {
		buf.Push(i)
	}
	buf.Close()

	var got []int
	for {
		items, err := buf.Pull(context.Background(), 3)
		if errors.Is(err, pump.ErrClosed) {
			break
		} else if err != nil {
			t.Fatalf("Pull: %v", err)
		}
		if len(items) > 3 {
			t.Errorf("Pull returned %d items, max 3", len(items))
		}
		got = append(got, items...)
	}
	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("drained items (-want, +got):\n%s", diff)
	}
}

func TestPullReturnsAvailableShort(t *testing.T) {
	buf := pump.NewBuffer[string]()
	buf.Push("only")

	items, err := buf.Pull(context.Background(), 16)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(items) != 1 || items[0] != "only" {
		t.Errorf("Pull: got %v, want [only]", items)
	}
}

func TestPullBlocksUntilPush(t *testing.T) {
	defer leaktest.Check(t)()
	buf := pump.NewBuffer[int]()

	done := make(chan []int, 1)
	go func() {
		items, err := buf.Pull(context.Background(), 1)
		if err != nil {
			t.Errorf("Pull: %v", err)
		}
		done <- items
	}()

	select {
	case items := <-done:
		t.Fatalf("Pull returned %v before any push", items)
	case <-time.After(10 * time.Millisecond):
	}

	buf.Push(42)
	select {
	case items := <-done:
		if len(items) != 1 || items[0] != 42 {
			t.Errorf("Pull: got %v, want [42]", items)
		}
	case <-time.After(time.Second):
		t.Fatal("Pull did not wake after push")
	}
}

func TestPullHonorsContext(t *testing.T) {
	defer leaktest.Check(t)()
	buf := pump.NewBuffer[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := buf.Pull(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Pull on canceled context: got %v, want context.Canceled", err)
	}
}

func TestCloseDrainsBeforeErrClosed(t *testing.T) {
	buf := pump.NewBuffer[int]()
	buf.Push(1)
	buf.Close()
	buf.Close() // idempotent
	buf.Push(2) // dropped after close

	items, err := buf.Pull(context.Background(), 8)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(items) != 1 || items[0] != 1 {
		t.Errorf("Pull: got %v, want [1]", items)
	}
	if _, err := buf.Pull(context.Background(), 1); !errors.Is(err, pump.ErrClosed) {
		t.Errorf("Pull after drain: got %v, want ErrClosed", err)
	}
}

func TestConcurrentPushers(t *testing.T) {
	defer leaktest.Check(t)()
	buf := pump.NewBuffer[int]()

	const pushers, per = 8, 100
	var wg sync.WaitGroup
	for p := range pushers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range per {
				buf.Push(p*per + i)
			}
		}()
	}
	wg.Wait()
	buf.Close()

	seen := make(map[int]bool)
	for {
		items, err := buf.Pull(context.Background(), 32)
		if errors.Is(err, pump.ErrClosed) {
			break
		} else if err != nil {
			t.Fatalf("Pull: %v", err)
		}
		for _, v := range items {
			if seen[v] {
				t.Errorf("duplicate item %d", v)
			}
			seen[v] = true
		}
	}
	if len(seen) != pushers*per {
		t.Errorf("drained %d items, want %d", len(seen), pushers*per)
	}
}

func TestRunProcessesAllAndStops(t *testing.T) {
	defer leaktest.Check(t)()
	buf := pump.NewBuffer[int]()

	var sum atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- pump.Run(context.Background(), buf, 4, 8, func(v int) {
			sum.Add(int64(v))
		})
	}()

	var want int64
	for i := 1; i <= 200; i++ {
		buf.Push(i)
		want += int64(i)
	}
	buf.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after close")
	}
	if got := sum.Load(); got != want {
		t.Errorf("sum: got %d, want %d", got, want)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	defer leaktest.Check(t)()
	buf := pump.NewBuffer[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- pump.Run(ctx, buf, 2, 4, func(int) {})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
