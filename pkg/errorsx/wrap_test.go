package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapCarriesReason(t *testing.T) {
	base := errors.New("socket reset")
	err := Wrap(base, ReasonTransportClosed)

	if Reason(err) != ReasonTransportClosed {
		t.Fatalf("expected transport_closed, got %s", Reason(err))
	}
	if !HasReason(err, ReasonTransportClosed) {
		t.Fatalf("HasReason must match the wrapped reason")
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error must unwrap to the base error")
	}
}

func TestReasonSurvivesFurtherWrapping(t *testing.T) {
	err := New("denied by user", ReasonMicPermissionDenied)
	outer := fmt.Errorf("start capture: %w", err)

	if Reason(outer) != ReasonMicPermissionDenied {
		t.Fatalf("reason lost through fmt wrapping, got %s", Reason(outer))
	}
}

func TestReasonDefaultsToUnknown(t *testing.T) {
	if Reason(errors.New("plain")) != ReasonUnknown {
		t.Fatalf("plain errors must report unknown reason")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("nil must report unknown reason")
	}
}
