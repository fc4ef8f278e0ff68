package poolmachine

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodedErrors(t *testing.T) {
	err := E(CodeInsufficientFunds, "pool.Withdraw", "pool balance too low")
	code, ok := CodeOf(err)
	if !ok {
		t.Fatal("expected a coded error")
	}
	if code != CodeInsufficientFunds {
		t.Fatalf("expected code %d, got %d", CodeInsufficientFunds, code)
	}

	wrapped := fmt.Errorf("processing event: %w", err)
	code, ok = CodeOf(wrapped)
	if !ok || code != CodeInsufficientFunds {
		t.Fatalf("code lost through wrapping: %d %v", code, ok)
	}

	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Fatal("plain errors must not carry a code")
	}
	if _, ok := CodeOf(nil); ok {
		t.Fatal("nil must not carry a code")
	}
}

func TestCodeStrings(t *testing.T) {
	for code, want := range map[Code]string{
		CodeAuthorization:     "authorization",
		CodeNotFound:          "not found",
		CodeInvalidInput:      "invalid input",
		CodeStateConflict:     "state conflict",
		CodeTemporal:          "temporal",
		CodeInsufficientFunds: "insufficient funds",
		CodeInsufficientVotes: "insufficient votes",
	} {
		if code.String() != want {
			t.Fatalf("Code(%d).String() = %q, want %q", code, code.String(), want)
		}
	}
}
