package errors

import (
	"fmt"
	"testing"
)

func TestKaiaError_Error(t *testing.T) {
	err := &KaiaError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "not found",
	}

	expected := "NOT_FOUND: not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestGateConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *KaiaError
		code   ErrorCode
		status int
	}{
		{"no image", NewNoImage(), ErrNoImage, 400},
		{"invalid image", NewInvalidImage("text/plain"), ErrInvalidImage, 415},
		{"not logged in", NewNotLoggedIn(), ErrNotLoggedIn, 401},
		{"no credits", NewNoCredits(), ErrNoCredits, 402},
		{"busy", NewBusy(), ErrBusy, 409},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
			if !IsGate(tt.err) {
				t.Errorf("IsGate(%s) = false, want true", tt.code)
			}
			if tt.err.Message == "" {
				t.Error("gate errors need a user-facing message")
			}
		})
	}
}

func TestNewUpgradeRequired(t *testing.T) {
	err := NewUpgradeRequired("Platinum plan required for this strategy")
	if err.Code != ErrUpgradeRequired {
		t.Errorf("Code = %q, want %q", err.Code, ErrUpgradeRequired)
	}
	if UserMessage(err) != "Platinum plan required for this strategy" {
		t.Errorf("UserMessage = %q, want verbatim detail", UserMessage(err))
	}

	empty := NewUpgradeRequired("")
	if empty.Message == "" {
		t.Error("empty detail should fall back to a default message")
	}
}

func TestNewOutOfCredits(t *testing.T) {
	err := NewOutOfCredits("الرصيد غير كافٍ، يرجى الترقية")
	if err.Status != 402 {
		t.Errorf("Status = %d, want 402", err.Status)
	}
	if UserMessage(err) != "الرصيد غير كافٍ، يرجى الترقية" {
		t.Errorf("UserMessage = %q, want verbatim detail", UserMessage(err))
	}
}

func TestNewBackend_HidesDetail(t *testing.T) {
	err := NewBackend(500, "AI Engine Error: openai.APIError")
	if UserMessage(err) != MsgGeneric {
		t.Errorf("UserMessage = %q, want %q", UserMessage(err), MsgGeneric)
	}
	if err.Details["detail"] != "AI Engine Error: openai.APIError" {
		t.Errorf("Details[detail] = %v", err.Details["detail"])
	}
}

func TestNewTransport(t *testing.T) {
	err := NewTransport(fmt.Errorf("dial tcp 10.0.0.1:8000: connection refused"))
	if err.Code != ErrTransport {
		t.Errorf("Code = %q, want %q", err.Code, ErrTransport)
	}
	if UserMessage(err) != MsgTryAgain {
		t.Errorf("UserMessage = %q, want %q", UserMessage(err), MsgTryAgain)
	}
	if err.Details["internal_error"] != "dial tcp 10.0.0.1:8000: connection refused" {
		t.Errorf("Details[internal_error] = %v", err.Details["internal_error"])
	}
}

func TestNewTimeout(t *testing.T) {
	err := NewTimeout("analyze")
	if err.Status != 504 {
		t.Errorf("Status = %d, want 504", err.Status)
	}
	if err.Details["phase"] != "analyze" {
		t.Errorf("Details[phase] = %v, want analyze", err.Details["phase"])
	}
	if IsGate(err) {
		t.Error("timeout is not a gate error")
	}
}

func TestNewFileTooLarge(t *testing.T) {
	err := NewFileTooLarge(10*1024*1024, 15*1024*1024)

	if err.Code != ErrFileTooLarge {
		t.Errorf("Code = %q, want %q", err.Code, ErrFileTooLarge)
	}
	if err.Status != 413 {
		t.Errorf("Status = %d, want 413", err.Status)
	}
	if err.Details["max_bytes"] != int64(10*1024*1024) {
		t.Errorf("Details[max_bytes] = %v, want %v", err.Details["max_bytes"], int64(10*1024*1024))
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("database connection failed"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "database connection failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewNotFound("x"), ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewNotFound("x"), ErrBusy) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("non-KaiaError", func(t *testing.T) {
		if Is(fmt.Errorf("plain error"), ErrNotFound) {
			t.Error("Is() = true, want false for non-KaiaError")
		}
	})

	t.Run("wrapped KaiaError", func(t *testing.T) {
		wrapped := fmt.Errorf("upload: %w", NewTransport(nil))
		if !Is(wrapped, ErrTransport) {
			t.Error("Is() = false, want true for wrapped KaiaError")
		}
	})
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error", fmt.Errorf("panic: runtime error"), MsgGeneric},
		{"internal", NewInternal(fmt.Errorf("sql: no rows")), MsgGeneric},
		{"timeout", NewTimeout("upload"), MsgTryAgain},
		{"unauthenticated", NewUnauthenticated(), MsgSessionExpiry},
		{"gate", NewNoImage(), NewNoImage().Message},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
