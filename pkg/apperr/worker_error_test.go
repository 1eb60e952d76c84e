package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHelpers(t *testing.T) {
	cause := errors.New("connection refused")
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{name: "not found", err: NotFound("user"), wantCode: CodeNotFound, wantStatus: http.StatusNotFound},
		{name: "wrapped", err: fmt.Errorf("process: %w", DatabaseError("log events", cause)), wantCode: CodeDatabaseError, wantStatus: http.StatusInternalServerError},
		{name: "external", err: ExternalError("raw data source", cause), wantCode: CodeExternalError, wantStatus: http.StatusBadGateway},
		{name: "plain error", err: cause, wantCode: "", wantStatus: http.StatusInternalServerError},
		{name: "rate limited", err: New(CodeRateLimited, "too many requests", http.StatusTooManyRequests), wantCode: CodeRateLimited, wantStatus: http.StatusTooManyRequests},
		{name: "timeout", err: Timeout("process user").WithError(cause), wantCode: CodeTimeout, wantStatus: http.StatusGatewayTimeout},
		{name: "conflict", err: Conflict("run in progress"), wantCode: CodeConflict, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.wantCode {
				t.Errorf("GetCode() = %q, want %q", got, tt.wantCode)
			}
			if got := GetHTTPStatus(tt.err); got != tt.wantStatus {
				t.Errorf("GetHTTPStatus() = %d, want %d", got, tt.wantStatus)
			}
			if tt.wantCode != "" && !Is(tt.err, tt.wantCode) {
				t.Errorf("Is(%q) = false", tt.wantCode)
			}
		})
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := ExternalError("gmail", cause)
	if !errors.Is(err, cause) {
		t.Error("cause lost")
	}
	if err.Details["service"] != "gmail" {
		t.Errorf("unexpected details %v", err.Details)
	}
}

func TestAsAppError(t *testing.T) {
	notFound := NotFound("user")
	if got := AsAppError(fmt.Errorf("load: %w", notFound)); got != notFound {
		t.Errorf("AsAppError() = %v, want the wrapped AppError", got)
	}

	cause := errors.New("boom")
	got := AsAppError(cause)
	if got.Code != CodeInternalError || got.Status != http.StatusInternalServerError {
		t.Errorf("AsAppError(plain) = %+v", got)
	}
	if !errors.Is(got, cause) {
		t.Error("plain error should stay in the chain")
	}
}
