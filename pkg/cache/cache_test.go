package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestFingerprint_DeterministicAndOrderIndependent(t *testing.T) {
	a := Fingerprint("pdf-parser", "1.2.0", "abc123", map[string]any{"ocr": true, "lang": "en"})
	b := Fingerprint("pdf-parser", "1.2.0", "abc123", map[string]any{"lang": "en", "ocr": true})
	if a != b {
		t.Fatalf("fingerprints differ by option order: %s vs %s", a, b)
	}
}

func TestFingerprint_DistinguishesInputs(t *testing.T) {
	base := Fingerprint("pdf-parser", "1.2.0", "abc123", nil)
	variants := []string{
		Fingerprint("pdf-parser", "1.3.0", "abc123", nil),
		Fingerprint("pdf-parser", "1.2.0", "xyz789", nil),
		Fingerprint("html-parser", "1.2.0", "abc123", nil),
		Fingerprint("pdf-parser", "1.2.0", "abc123", map[string]any{"ocr": true}),
	}
	for _, v := range variants {
		if v == base {
			t.Fatalf("expected distinct fingerprint, got collision with base %s", base)
		}
	}
}

func TestL1Mem_PutGetExpiry(t *testing.T) {
	l1, err := NewL1Mem(4)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := l1.Put(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	v, ok, err := l1.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("got %q, %v, %v", v, ok, err)
	}

	if err := l1.Put(ctx, "expiring", []byte("v"), -time.Second); err != nil {
		t.Fatal(err)
	}
	_, ok, _ = l1.Get(ctx, "expiring")
	if ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestL2Disk_PutGetSweep(t *testing.T) {
	l2, err := NewL2Disk(filepath.Join(t.TempDir(), "l2.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Close()
	ctx := context.Background()

	if err := l2.Put(ctx, "fresh", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := l2.Put(ctx, "stale", []byte("v"), -time.Hour); err != nil {
		t.Fatal(err)
	}

	n, err := l2.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok, _ := l2.Get(ctx, "fresh"); !ok {
		t.Fatal("expected fresh entry to survive sweep")
	}
}

func TestTiered_GetOrBuild_SingleFlight(t *testing.T) {
	l1, _ := NewL1Mem(16)
	tiered := NewTiered(time.Minute, nil, l1)

	var calls int32
	build := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return []byte("built"), nil
	}

	results := make(chan []byte, 8)
	for i := 0; i < 8; i++ {
		go func() {
			v, err := tiered.GetOrBuild(context.Background(), "fp", build)
			if err != nil {
				t.Error(err)
				return
			}
			results <- v
		}()
	}
	for i := 0; i < 8; i++ {
		<-results
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("builder called %d times, want 1", got)
	}

	v, ok, err := l1.Get(context.Background(), "fp")
	if err != nil || !ok || string(v) != "built" {
		t.Fatalf("L1 not filled after build: %v %v %v", v, ok, err)
	}
}

func TestTiered_FillsLowerTiersFromHit(t *testing.T) {
	l1, _ := NewL1Mem(16)
	l2, err := NewL2Disk(filepath.Join(t.TempDir(), "l2.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Close()

	ctx := context.Background()
	if err := l2.Put(ctx, "fp", []byte("from-l2"), time.Minute); err != nil {
		t.Fatal(err)
	}

	tiered := NewTiered(time.Minute, nil, l1, l2)
	calls := 0
	v, err := tiered.GetOrBuild(ctx, "fp", func(ctx context.Context) ([]byte, error) {
		calls++
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "from-l2" {
		t.Fatalf("got %q, want from-l2", v)
	}
	if calls != 0 {
		t.Fatalf("builder should not have been called, got %d calls", calls)
	}
	if got, ok, _ := l1.Get(ctx, "fp"); !ok || string(got) != "from-l2" {
		t.Fatalf("l1 not backfilled from l2 hit: got %q, ok=%v", got, ok)
	}
}

// failingTier always errors, simulating a downed L2/L3 backend.
type failingTier struct{}

func (failingTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("backend unavailable")
}

func (failingTier) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("backend unavailable")
}

func TestTiered_AllTiersDown_BypassesToBuilder(t *testing.T) {
	tiered := NewTiered(time.Minute, nil, failingTier{}, failingTier{})

	calls := 0
	v, err := tiered.GetOrBuild(context.Background(), "fp", func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("built-direct"), nil
	})
	if err != nil {
		t.Fatalf("expected GetOrBuild to bypass failing tiers, got error: %v", err)
	}
	if string(v) != "built-direct" {
		t.Fatalf("got %q, want built-direct", v)
	}
	if calls != 1 {
		t.Fatalf("builder called %d times, want 1", calls)
	}
}

func TestTiered_OneTierDown_DegradesToNext(t *testing.T) {
	l1, _ := NewL1Mem(16)
	if err := l1.Put(context.Background(), "fp", []byte("from-l1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	tiered := NewTiered(time.Minute, nil, failingTier{}, l1)

	v, ok, err := tiered.Get(context.Background(), "fp")
	if err != nil {
		t.Fatalf("expected degrade past failing tier, got error: %v", err)
	}
	if !ok || string(v) != "from-l1" {
		t.Fatalf("got %q, %v, want from-l1, true", v, ok)
	}
}
