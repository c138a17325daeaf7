package api

import "testing"

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		origin         string
		allowedOrigins []string
		reqHost        string
		want           bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:           "allowlist permits exact origin",
			origin:         "https://dash.example.com",
			allowedOrigins: []string{"https://dash.example.com"},
			reqHost:        "0.0.0.0:8080",
			want:           true,
		},
		{
			name:           "allowlist denies everything else",
			origin:         "https://evil.example",
			allowedOrigins: []string{"https://dash.example.com"},
			reqHost:        "0.0.0.0:8080",
			want:           false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://arb.internal:8080",
			reqHost: "arb.internal:8080",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.allowedOrigins, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
