package agent

import (
	"errors"
	"fmt"
	"testing"

	"github.com/banyanhq/banyan/pkg/models"
)

func TestError_Message(t *testing.T) {
	err := newError(models.RolePlanner, fmt.Errorf("connection refused"))
	want := "planner agent: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := newError(models.RoleVerifier, fmt.Errorf("call failed: %w", inner))

	if !errors.Is(err, inner) {
		t.Error("errors.Is should reach the wrapped cause")
	}

	var agentErr *Error
	if !errors.As(err, &agentErr) {
		t.Fatal("errors.As should match *Error")
	}
	if agentErr.Role != models.RoleVerifier {
		t.Errorf("role = %q, want verifier", agentErr.Role)
	}
}
