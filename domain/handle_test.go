package domain

import (
	"testing"
)

func TestParseHandle(t *testing.T) {
	tests := []struct {
		name       string
		handle     string
		wantName   string
		wantHost   string
		wantErr    bool
	}{
		{
			name:     "plain handle",
			handle:   "alice@example.com",
			wantName: "alice",
			wantHost: "example.com",
		},
		{
			name:     "leading at",
			handle:   "@alice@example.com",
			wantName: "alice",
			wantHost: "example.com",
		},
		{
			name:     "trailing parenthesis stripped",
			handle:   "alice@example.com)",
			wantName: "alice",
			wantHost: "example.com",
		},
		{
			name:     "trailing punctuation stripped",
			handle:   "bob@social.example.org.",
			wantName: "bob",
			wantHost: "social.example.org",
		},
		{
			name:     "host with port",
			handle:   "carol@example.com:8443",
			wantName: "carol",
			wantHost: "example.com:8443",
		},
		{
			name:    "missing host",
			handle:  "alice",
			wantErr: true,
		},
		{
			name:    "empty name",
			handle:  "@example.com",
			wantErr: true,
		},
		{
			name:    "empty string",
			handle:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, host, err := ParseHandle(tt.handle)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q, got name=%q host=%q", tt.handle, name, host)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %q: %v", tt.handle, err)
			}
			if name != tt.wantName {
				t.Errorf("Expected name %q, got %q", tt.wantName, name)
			}
			if host != tt.wantHost {
				t.Errorf("Expected host %q, got %q", tt.wantHost, host)
			}
		})
	}
}

func TestIsLocalHandle(t *testing.T) {
	tests := []struct {
		name        string
		handle      string
		localDomain string
		want        bool
	}{
		{
			name:        "matching domain",
			handle:      "alice@example.com",
			localDomain: "example.com",
			want:        true,
		},
		{
			name:        "case insensitive",
			handle:      "alice@EXAMPLE.com",
			localDomain: "example.com",
			want:        true,
		},
		{
			name:        "different domain",
			handle:      "alice@other.org",
			localDomain: "example.com",
			want:        false,
		},
		{
			name:        "handle port ignored",
			handle:      "alice@example.com:8443",
			localDomain: "example.com",
			want:        true,
		},
		{
			name:        "unparseable handle",
			handle:      "not-a-handle",
			localDomain: "example.com",
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsLocalHandle(tt.handle, tt.localDomain)
			if got != tt.want {
				t.Errorf("IsLocalHandle(%q, %q) = %v, expected %v", tt.handle, tt.localDomain, got, tt.want)
			}
		})
	}
}

func TestFullHandle(t *testing.T) {
	got := FullHandle("alice", "example.com")
	if got != "@alice@example.com" {
		t.Errorf("Expected @alice@example.com, got %q", got)
	}
}
