package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/iot-resource-manager/backend/internal/apperr"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"typed error", apperr.New(apperr.KindConflict, "busy"), apperr.KindConflict},
		{"wrapped typed error", fmt.Errorf("outer: %w", apperr.NotFound("resource", "r1")), apperr.KindNotFound},
		{"storage wrap", apperr.Storage("query", errors.New("disk full")), apperr.KindStorage},
		{"plain error", errors.New("boom"), apperr.KindStorage},
		{"nil", nil, apperr.Kind("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apperr.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := apperr.New(apperr.KindPermissionDenied, "no")
	if !apperr.Is(err, apperr.KindPermissionDenied) {
		t.Error("Is(permission_denied) = false")
	}
	if apperr.Is(err, apperr.KindConflict) {
		t.Error("Is(conflict) = true for permission error")
	}
	if apperr.Is(nil, apperr.KindConflict) {
		t.Error("Is(nil) = true")
	}
}

func TestMessageAndUnwrap(t *testing.T) {
	cause := errors.New("unique constraint failed")
	err := apperr.Wrap(apperr.KindConflict, "username already taken", cause)

	if got := apperr.MessageOf(err); got != "username already taken" {
		t.Errorf("MessageOf = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
}
