package realtime

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"fitlink/cmd/internal/auth/session"
	v1 "fitlink/contracts/realtime/v1"
)

func TestExtractTokenPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		hello     v1.HelloPayload
		target    string
		bearer    string
		wantToken string
		wantErr   error
	}{
		{
			name:      "hello payload wins over everything",
			hello:     v1.HelloPayload{Token: "from-hello"},
			target:    "/ws?token=from-query",
			bearer:    "Bearer from-header",
			wantToken: "from-hello",
		},
		{
			name:      "query wins over header",
			target:    "/ws?token=from-query",
			bearer:    "Bearer from-header",
			wantToken: "from-query",
		},
		{
			name:      "header as last resort",
			target:    "/ws",
			bearer:    "Bearer from-header",
			wantToken: "from-header",
		},
		{
			name:    "nothing present",
			target:  "/ws",
			wantErr: session.ErrNoToken,
		},
		{
			name:    "non-bearer scheme is malformed",
			target:  "/ws",
			bearer:  "Basic xyz",
			wantErr: session.ErrMalformedToken,
		},
		{
			name:    "bearer with empty token is malformed",
			target:  "/ws",
			bearer:  "Bearer ",
			wantErr: session.ErrMalformedToken,
		},
		{
			name:      "whitespace-only hello token falls through",
			hello:     v1.HelloPayload{Token: "   "},
			target:    "/ws?token=from-query",
			wantToken: "from-query",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest("GET", tc.target, nil)
			if tc.bearer != "" {
				r.Header.Set("Authorization", tc.bearer)
			}

			token, err := extractToken(tc.hello, r)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractToken: %v", err)
			}
			if token != tc.wantToken {
				t.Fatalf("token = %q, want %q", token, tc.wantToken)
			}
		})
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	g := &Gateway{
		originRequired: true,
		allowedOrigins: []string{"http://localhost", "https://app.fitlink.dev"},
	}

	tests := []struct {
		name   string
		origin string
		wantOK bool
	}{
		{"missing origin rejected when required", "", false},
		{"exact allowlist match", "http://localhost", true},
		{"host match with different port", "http://localhost:3000", true},
		{"host match with different scheme", "https://app.fitlink.dev", true},
		{"unlisted origin rejected", "https://evil.example", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest("GET", "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}

			err := g.enforceOrigin(r)
			if ok := err == nil; ok != tc.wantOK {
				t.Fatalf("enforceOrigin(%q) err = %v, want ok=%v", tc.origin, err, tc.wantOK)
			}
		})
	}

	relaxed := &Gateway{originRequired: false, allowedOrigins: []string{"http://localhost"}}
	r := httptest.NewRequest("GET", "/ws", nil)
	if err := relaxed.enforceOrigin(r); err != nil {
		t.Fatalf("optional origin: %v", err)
	}
}

func TestClassifyReadErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want readErrKind
	}{
		{"context canceled", context.Canceled, readErrCtxDone},
		{"deadline exceeded", context.DeadlineExceeded, readErrCtxDone},
		{"eof", io.EOF, readErrConnClosed},
		{"bad json", errors.New("invalid character 'x' looking for beginning of value"), readErrBadJSON},
		{"unknown", errors.New("boom"), readErrUnknown},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := classifyReadErr(tc.err); got != tc.want {
				t.Fatalf("classifyReadErr = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOriginHostOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost", "localhost"},
		{"http://localhost:3000", "localhost"},
		{"https://App.Fitlink.Dev", "app.fitlink.dev"},
		{"localhost:8080", "localhost"},
		{"localhost", "localhost"},
		{"", ""},
	}

	for _, tc := range tests {
		if got := originHostOnly(tc.in); got != tc.want {
			t.Fatalf("originHostOnly(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
