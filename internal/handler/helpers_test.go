package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nikoai/niko/internal/model"
	"github.com/nikoai/niko/internal/service"
)

// ---------------------------------------------------------------------------
// queryBool tests
// ---------------------------------------------------------------------------

func TestQueryBool(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"true for 'true'", "/test?include_deleted=true", true},
		{"true for '1'", "/test?include_deleted=1", true},
		{"false for 'false'", "/test?include_deleted=false", false},
		{"false for missing", "/test", false},
		{"false for empty", "/test?include_deleted=", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if got := queryBool(r, "include_deleted"); got != tt.want {
				t.Errorf("queryBool = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueryOptionalBool(t *testing.T) {
	if got := queryOptionalBool(httptest.NewRequest("GET", "/test", nil), "filter_admin"); got != nil {
		t.Errorf("missing param: got %v, want nil", *got)
	}
	got := queryOptionalBool(httptest.NewRequest("GET", "/test?filter_admin=false", nil), "filter_admin")
	if got == nil || *got {
		t.Errorf("filter_admin=false: got %v", got)
	}
}

// ---------------------------------------------------------------------------
// readJSON tests
// ---------------------------------------------------------------------------

func TestReadJSON(t *testing.T) {
	type payload struct {
		Username string `json:"username"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"username":"alice"}`, false},
		{"empty", ``, true},
		{"unknown field", `{"username":"alice","is_privileged":true}`, true},
		{"trailing object", `{"username":"a"}{"username":"b"}`, true},
		{"not json", `username=alice`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/register", strings.NewReader(tt.body))
			var p payload
			err := readJSON(httptest.NewRecorder(), r, &p)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// writeServiceError tests
// ---------------------------------------------------------------------------

func TestWriteServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{&service.ValidationError{Field: "username", Message: "too short"}, 400, "too short"},
		{service.ErrInvalidCredentials, 401, "Invalid username or password"},
		{service.ErrAccountExpired, 401, "Invalid username or password"},
		{service.ErrIdentityExists, 409, "Username already taken"},
		{service.ErrIdentityNotFound, 404, "User not found"},
		{service.ErrSelfDeletion, 400, "You cannot delete your own account"},
		{service.ErrDeletionFinal, 410, "Account deletion is final"},
		{fmt.Errorf("load identity: %w", errors.New("disk I/O error")), 500, "Internal server error"},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		writeServiceError(rr, httptest.NewRequest("GET", "/", nil), logger, tt.err)
		if rr.Code != tt.status {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.status)
		}
		var body model.ErrorResponse
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Message != tt.message {
			t.Errorf("%v: message = %q, want %q", tt.err, body.Error.Message, tt.message)
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Errorf("%v: content type %q", tt.err, rr.Header().Get("Content-Type"))
		}
	}
}
