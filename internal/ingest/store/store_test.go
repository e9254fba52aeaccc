package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsTransientRecognizesRetryableCodes(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "08000", "08003", "08006"} {
		err := &pgconn.PgError{Code: code}
		if !isTransient(err) {
			t.Fatalf("code %s should be transient", code)
		}
	}
}

func TestIsTransientRejectsOtherCodes(t *testing.T) {
	err := &pgconn.PgError{Code: "23505"} // unique_violation
	if isTransient(err) {
		t.Fatal("unique_violation must not be treated as transient")
	}
}

func TestIsTransientRecognizesClosedTx(t *testing.T) {
	if !isTransient(pgx.ErrTxClosed) {
		t.Fatal("pgx.ErrTxClosed should be transient")
	}
}

func TestIsTransientRejectsNilAndUnrelatedErrors(t *testing.T) {
	if isTransient(nil) {
		t.Fatal("a nil error must not be treated as transient")
	}
	if isTransient(errors.New("boom")) {
		t.Fatal("an unrelated error must not be treated as transient")
	}
}

func TestWithRetryDoesNotRetryNonTransientError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected the permanent error to surface")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 (no retry on non-transient error)", calls)
	}
}

func TestWithRetryRetriesTransientErrorsThenSucceeds(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	if err == nil {
		t.Fatal("expected the transient error to surface after exhausting retries")
	}
	if calls != maxRetries+1 {
		t.Fatalf("calls = %d, want %d (1 initial + %d retries)", calls, maxRetries+1, maxRetries)
	}
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withRetry(ctx, func() error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (cancellation short-circuits before the first backoff completes)", calls)
	}
}

func TestNullStrEmptyIsNil(t *testing.T) {
	if got := nullStr(""); got != nil {
		t.Fatalf("nullStr(\"\") = %v, want nil", got)
	}
}

func TestNullStrNonEmptyReturnsPointer(t *testing.T) {
	got := nullStr("hello")
	if got == nil || *got != "hello" {
		t.Fatalf("nullStr(\"hello\") = %v, want pointer to \"hello\"", got)
	}
}

func TestNullRawEmptyIsNil(t *testing.T) {
	if got := nullRaw(nil); got != nil {
		t.Fatalf("nullRaw(nil) = %v, want nil", got)
	}
	if got := nullRaw([]byte{}); got != nil {
		t.Fatalf("nullRaw([]byte{}) = %v, want nil", got)
	}
}

func TestNullRawNonEmptyPassesThrough(t *testing.T) {
	in := []byte(`{"a":1}`)
	got := nullRaw(in)
	if string(got) != string(in) {
		t.Fatalf("nullRaw(%q) = %q, want unchanged", in, got)
	}
}
