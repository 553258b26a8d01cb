package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"marketsync/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryValueFirstSuccess(t *testing.T) {
	calls := 0
	v, err := RetryValue(context.Background(), RetryPolicy{MaxAttempts: 5}, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("RetryValue = %d, %v; want 42, nil", v, err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

// failing k times then succeeding: ceiling >= k+1 succeeds in k+1 calls,
// ceiling <= k fails with the ceiling-th error after exactly ceiling calls.
func TestRetryValueCeiling(t *testing.T) {
	const k = 3
	for ceiling := 1; ceiling <= 5; ceiling++ {
		calls := 0
		_, err := RetryValue(context.Background(), RetryPolicy{MaxAttempts: ceiling}, func(context.Context) (string, error) {
			calls++
			if calls <= k {
				return "", fmt.Errorf("attempt %d", calls)
			}
			return "ok", nil
		})

		if ceiling >= k+1 {
			if err != nil {
				t.Errorf("ceiling %d: unexpected error %v", ceiling, err)
			}
			if calls != k+1 {
				t.Errorf("ceiling %d: op called %d times, want %d", ceiling, calls, k+1)
			}
			continue
		}

		var re *RetryError
		if !errors.As(err, &re) {
			t.Fatalf("ceiling %d: error %v is not a *RetryError", ceiling, err)
		}
		if calls != ceiling || re.Attempts != ceiling {
			t.Errorf("ceiling %d: calls=%d attempts=%d", ceiling, calls, re.Attempts)
		}
		if want := fmt.Sprintf("attempt %d", ceiling); re.Err.Error() != want {
			t.Errorf("ceiling %d: last error = %q, want %q", ceiling, re.Err, want)
		}
	}
}

func TestRetryValueNonRetryable(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, Retryable: domain.Retryable}
	_, err := RetryValue(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("decode: %w", domain.ErrMalformed)
	})
	if !errors.Is(err, domain.ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
	var re *RetryError
	if errors.As(err, &re) {
		t.Error("a non-retryable error should not be wrapped in RetryError")
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestRetryValueKeepsErrorKind(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, Retryable: domain.Retryable}
	_, err := RetryValue(context.Background(), policy, func(context.Context) (int, error) {
		return 0, &domain.APIError{StatusCode: 503}
	})
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
		t.Errorf("error = %v, want the 503 APIError", err)
	}
}

func TestRetryValueContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}
	done := make(chan error, 1)
	go func() {
		_, err := RetryValue(ctx, policy, func(context.Context) (int, error) {
			return 0, errors.New("down")
		})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RetryValue did not return after cancellation")
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if NewRateLimiter(0) != nil {
		t.Error("NewRateLimiter(0) should be unlimited (nil)")
	}
}

func TestRateLimiterWait(t *testing.T) {
	var unlimited *RateLimiter
	if err := unlimited.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter Wait: %v", err)
	}

	rl := NewRateLimiter(1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait error = %v, want DeadlineExceeded", err)
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	if err != nil || lvl != slog.LevelWarn {
		t.Errorf("ParseLevel(WARN) = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) should fail")
	}
}

func TestFileLogger(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "sync.log")
	logger, closer := NewFileLogger("warn", path, &console)
	logger.Info("dropped")
	logger.Warn("kept", "kind", "stock_daily")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for name, out := range map[string]string{"console": console.String(), "file": string(data)} {
		if strings.Contains(out, "dropped") || !strings.Contains(out, `"msg":"kept"`) {
			t.Errorf("%s output = %q", name, out)
		}
	}
}

func day(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func TestTradeCalendarNext(t *testing.T) {
	// Thu, Fri, then Mon after a weekend; input unsorted with a duplicate.
	cal := NewTradeCalendar([]time.Time{
		day("2024-01-08"), day("2024-01-04"), day("2024-01-05"), day("2024-01-04"),
	})
	if cal.Len() != 3 {
		t.Fatalf("Len = %d, want 3", cal.Len())
	}

	cases := []struct{ in, want string }{
		{"2024-01-01", "2024-01-04"},
		{"2024-01-04", "2024-01-05"},
		{"2024-01-05", "2024-01-08"},
		{"2024-01-06", "2024-01-08"},
		// Past the last session: next weekday.
		{"2024-01-08", "2024-01-09"},
		{"2024-01-12", "2024-01-15"},
	}
	for _, c := range cases {
		if got := cal.NextTradeDate(day(c.in)); !got.Equal(day(c.want)) {
			t.Errorf("NextTradeDate(%s) = %s, want %s", c.in, got.Format("2006-01-02"), c.want)
		}
	}

	// Intraday timestamps are truncated to their day.
	got := cal.NextTradeDate(time.Date(2024, 1, 4, 15, 30, 0, 0, time.UTC))
	if !got.Equal(day("2024-01-05")) {
		t.Errorf("NextTradeDate(2024-01-04T15:30) = %s", got)
	}
}

func TestTradeCalendarEmpty(t *testing.T) {
	cal := NewTradeCalendar(nil)
	if got := cal.NextTradeDate(day("2024-03-01")); !got.Equal(day("2024-03-04")) {
		t.Errorf("empty calendar NextTradeDate(Fri) = %s, want Mon", got)
	}
	if _, ok := cal.Last(); ok {
		t.Error("empty calendar should have no last session")
	}
}

func TestTradeCalendarSnapshot(t *testing.T) {
	cal := NewTradeCalendar([]time.Time{day("2024-01-04")})
	snap := cal.Snapshot()
	cal.Load([]time.Time{day("2024-02-01")})

	if !snap.IsTradeDate(day("2024-01-04")) || snap.IsTradeDate(day("2024-02-01")) {
		t.Error("snapshot changed after Load on the original")
	}
	if last, _ := cal.Last(); !last.Equal(day("2024-02-01")) {
		t.Errorf("Last = %s", last)
	}
}

type staticSource struct {
	dates []time.Time
	err   error
}

func (s staticSource) TradeDates(context.Context) ([]time.Time, error) { return s.dates, s.err }

func TestLoadCalendarFallsBack(t *testing.T) {
	cal, err := LoadCalendar(context.Background(),
		staticSource{err: errors.New("offline")},
		staticSource{},
		staticSource{dates: []time.Time{day("2024-01-04")}},
	)
	if err != nil {
		t.Fatalf("LoadCalendar: %v", err)
	}
	if !cal.IsTradeDate(day("2024-01-04")) {
		t.Error("calendar should come from the third source")
	}

	if _, err := LoadCalendar(context.Background(), staticSource{err: errors.New("offline")}); err == nil {
		t.Error("LoadCalendar should fail when every source fails")
	}
}
