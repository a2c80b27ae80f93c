package crawler

import (
	"net/url"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"HTTPS://Docs.Example.COM:443/Guide#install", "https://docs.example.com/Guide"},
		{"http://docs.example.com:80", "http://docs.example.com/"},
		{"https://docs.example.com/search?b=2&a=1", "https://docs.example.com/search?a=1&b=2"},
		{"  https://docs.example.com:8443/x  ", "https://docs.example.com:8443/x"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := NormalizeURL("http://[::1"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestScopePrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		root     string
		explicit string
		want     string
	}{
		{"https://d.example/docs/", "", "/docs/"},
		{"https://d.example/docs/index.html", "", "/docs/"},
		{"https://d.example/index.html", "", "/"},
		{"https://d.example/docs", "", "/docs"},
		{"https://d.example", "", "/"},
		{"https://d.example/docs/", "api/", "/api/"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.root)
		if err != nil {
			t.Fatal(err)
		}
		if got := scopePrefix(u, tt.explicit); got != tt.want {
			t.Fatalf("scopePrefix(%q, %q) = %q, want %q", tt.root, tt.explicit, got, tt.want)
		}
	}
}
