package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
	if e.Error() == nil {
		t.Fatal("Err should carry its error")
	}
}

func TestFromPair(t *testing.T) {
	if v, err := FromPair(strconv.Atoi("5")).Unwrap(); v != 5 || err != nil {
		t.Fatalf("FromPair got %d, %v", v, err)
	}
	if FromPair(strconv.Atoi("nope")).IsOk() {
		t.Fatal("error should produce a failed Result")
	}
}

func TestTracedStagePassesThrough(t *testing.T) {
	fail := Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("fail")) })
	if TracedStage("fail", fail)(context.Background(), 1).IsOk() {
		t.Fatal("traced stage should keep the error")
	}
	double := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v * 2) })
	if v, _ := TracedStage("double", double)(context.Background(), 4).Unwrap(); v != 8 {
		t.Fatalf("got %d", v)
	}
}

func TestParMapPreservesOrder(t *testing.T) {
	out := ParMap([]int{1, 2, 3, 4, 5}, 2, func(v int) int { return v * 2 })
	for i, v := range out {
		if v != (i+1)*2 {
			t.Fatalf("ParMap order broken at %d", i)
		}
	}
	if len(ParMap([]int{}, 3, func(v int) int { return v })) != 0 {
		t.Fatal("empty input")
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	var calls int32
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		if atomic.AddInt32(&calls, 1) < 3 {
			return Err[int](errors.New("transient"))
		}
		return Ok(7)
	})
	if v, err := r.Unwrap(); err != nil || v != 7 {
		t.Fatalf("got %d, %v", v, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	var retries []int
	calls := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		OnRetry:     func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) },
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("down"))
	})
	if r.IsOk() || calls != 3 {
		t.Fatalf("ok=%v calls=%d", r.IsOk(), calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("retries = %v", retries)
	}
}

func TestRetryShouldRetryStopsEarly(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 4,
		InitialWait: time.Millisecond,
		ShouldRetry: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if !errors.Is(r.Error(), permanent) || calls != 1 {
		t.Fatalf("err=%v calls=%d", r.Error(), calls)
	}
}

func TestRetryCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Hour, MaxWait: time.Hour}, func(context.Context) Result[int] {
		return Err[int](errors.New("down"))
	})
	if !errors.Is(r.Error(), context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", r.Error())
	}
	if time.Since(start) > time.Second {
		t.Fatal("Retry did not observe cancellation")
	}
}

func TestBackoff(t *testing.T) {
	o := RetryOpts{InitialWait: time.Second, MaxWait: 5 * time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := o.Backoff(tt.n, nil); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}

	o.Jitter = true
	if got := o.Backoff(0, func() float64 { return 0 }); got != 500*time.Millisecond {
		t.Errorf("jitter low = %v", got)
	}
	if got := o.Backoff(2, func() float64 { return 0.99 }); got != 5*time.Second {
		t.Errorf("jitter capped = %v", got)
	}
}
