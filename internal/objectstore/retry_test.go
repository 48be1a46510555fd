package objectstore_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"filesweep/internal/objectstore"
)

func fastPolicy(attempts int) objectstore.RetryPolicy {
	return objectstore.RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryingRecoversFromTransientFailures(t *testing.T) {
	mem := objectstore.NewMemory()
	seed(mem, "env/a")
	mem.FailNext(objectstore.OpList, objectstore.ErrTransient, 2)

	store := objectstore.NewRetrying(mem, fastPolicy(3), nil)
	page, err := store.List(context.Background(), objectstore.ListInput{Prefix: "env/"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(page.Objects) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if mem.Calls(objectstore.OpList) != 3 {
		t.Fatalf("expected 3 list calls, got %d", mem.Calls(objectstore.OpList))
	}
}

func TestRetryingGivesUpAfterMaxAttempts(t *testing.T) {
	mem := objectstore.NewMemory()
	mem.FailNext(objectstore.OpList, objectstore.ErrTransient, 0)

	store := objectstore.NewRetrying(mem, fastPolicy(4), nil)
	_, err := store.List(context.Background(), objectstore.ListInput{Prefix: "env/"})
	var exhausted *objectstore.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 4 || mem.Calls(objectstore.OpList) != 4 {
		t.Fatalf("expected 4 attempts, got %d (calls %d)", exhausted.Attempts, mem.Calls(objectstore.OpList))
	}
}

func TestRetryingDoesNotRetryPermanentErrors(t *testing.T) {
	mem := objectstore.NewMemory()
	store := objectstore.NewRetrying(mem, fastPolicy(5), nil)

	_, err := store.Stat(context.Background(), "missing")
	if !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if mem.Calls(objectstore.OpStat) != 1 {
		t.Fatalf("expected a single stat call, got %d", mem.Calls(objectstore.OpStat))
	}
}

func TestRetryingStopsOnCancellation(t *testing.T) {
	mem := objectstore.NewMemory()
	mem.FailNext(objectstore.OpDelete, objectstore.ErrTransient, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := objectstore.NewRetrying(mem, objectstore.RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: time.Second}, nil)
	err := store.Delete(ctx, "env/a")
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if mem.Calls(objectstore.OpDelete) > 1 {
		t.Fatalf("expected no retries after cancellation, got %d calls", mem.Calls(objectstore.OpDelete))
	}
}

type fakeAPIError struct{ code string }

func (e fakeAPIError) Error() string                 { return e.code }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want objectstore.ErrorClass
	}{
		{"nil", nil, objectstore.ClassNone},
		{"canceled", context.Canceled, objectstore.ClassCanceled},
		{"sentinel not found", fmt.Errorf("wrap: %w", objectstore.ErrNotFound), objectstore.ClassNotFound},
		{"api slow down", fakeAPIError{code: "SlowDown"}, objectstore.ClassTemporary},
		{"api no such key", fakeAPIError{code: "NoSuchKey"}, objectstore.ClassNotFound},
		{"api access denied", fakeAPIError{code: "AccessDenied"}, objectstore.ClassAccessDenied},
		{"api precondition", fakeAPIError{code: "PreconditionFailed"}, objectstore.ClassPreconditionFailed},
		{"http 503", &smithyhttp.ResponseError{Response: &smithyhttp.Response{Response: &http.Response{StatusCode: 503}}, Err: errors.New("unavailable")}, objectstore.ClassTemporary},
		{"connection reset text", errors.New("read: connection reset by peer"), objectstore.ClassTemporary},
		{"other", errors.New("bad request"), objectstore.ClassUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := objectstore.Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
