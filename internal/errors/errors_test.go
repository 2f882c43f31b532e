package errors

import (
	stderrors "errors"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{PA_VALIDATION, http.StatusBadRequest},
		{PA_UNCONFIRMED, http.StatusBadRequest},
		{PA_AUTHN, http.StatusUnauthorized},
		{PA_NOT_FOUND, http.StatusNotFound},
		{PA_LAST_PROFILE, http.StatusConflict},
		{PA_QUOTA, http.StatusInsufficientStorage},
		{PA_RATE_LIMIT, http.StatusTooManyRequests},
		{PA_SAVE, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x", "").HTTPStatus; got != tt.want {
			t.Errorf("%s: got %d want %d", tt.code, got, tt.want)
		}
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(PA_QUOTA, cause)
	if !stderrors.Is(err, cause) {
		t.Errorf("errors.Is lost the cause")
	}
	if err.Message != "disk full" {
		t.Errorf("message got %q want %q", err.Message, "disk full")
	}
	stamped := err.WithCorrelation("abc")
	if stamped.CorrelationID != "abc" || err.CorrelationID != "" {
		t.Errorf("WithCorrelation must copy, got %q/%q", stamped.CorrelationID, err.CorrelationID)
	}
}
