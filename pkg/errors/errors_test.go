package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", 400)
	with := base.WithInternal(stdErrors.New("oops"))

	if with == base {
		t.Fatal("expected WithInternal to return a copy")
	}

	if base.Internal != nil {
		t.Fatal("expected original error to remain unchanged")
	}

	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
}

func TestWithInternalStillMatchesSentinel(t *testing.T) {
	cause := stdErrors.New("disk gone")
	err := fmt.Errorf("signup: %w", ErrStorageFailure.WithInternal(cause))

	if !stdErrors.Is(err, ErrStorageFailure) {
		t.Fatal("expected wrapped copy to match ErrStorageFailure")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected internal cause to remain reachable")
	}
	if stdErrors.Is(err, ErrNotFound) {
		t.Fatal("storage failure must not be conflated with not found")
	}
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	if out := FromError(appErr); out != appErr {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	raw := stdErrors.New("raw")
	out := FromError(raw)
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	if err.Code != ErrBadRequest.Code {
		t.Fatalf("expected %s, got %s", ErrBadRequest.Code, err.Code)
	}
	if err.Message != "invalid payload" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
	if err.StatusCode != ErrBadRequest.StatusCode {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
}

func TestVerificationStatusCodes(t *testing.T) {
	cases := map[*AppError]int{
		ErrInvalidCode:     http.StatusBadRequest,
		ErrExpiredCode:     http.StatusGone,
		ErrAlreadyConsumed: http.StatusConflict,
		ErrDeliveryFailed:  http.StatusBadGateway,
	}
	for appErr, status := range cases {
		if appErr.StatusCode != status {
			t.Fatalf("%s: expected status %d, got %d", appErr.Code, status, appErr.StatusCode)
		}
	}
}
