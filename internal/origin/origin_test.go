package origin

import "testing"

func TestNormalizeHeader(t *testing.T) {
	for _, tc := range []struct {
		in             string
		wantNormalized string
		wantHost       string
		wantOK         bool
	}{
		{"https://example.com", "https://example.com", "example.com", true},
		{"https://Example.COM:443", "https://example.com", "example.com", true},
		{"http://example.com:80", "http://example.com", "example.com", true},
		{"http://example.com:8080", "http://example.com:8080", "example.com:8080", true},
		{"https://[2001:db8::1]:8443", "https://[2001:db8::1]:8443", "[2001:db8::1]:8443", true},
		{"null", "null", "", true},
		{"", "", "", false},
		{"example.com", "", "", false},
		{"ftp://example.com", "", "", false},
		{"https://example.com/path", "", "", false},
		{"https://user@example.com", "", "", false},
		{"https://example.com?q=1", "", "", false},
		{"https://example.com:0", "", "", false},
		{"https://example.com:99999", "", "", false},
	} {
		normalized, host, ok := NormalizeHeader(tc.in)
		if ok != tc.wantOK || normalized != tc.wantNormalized || host != tc.wantHost {
			t.Fatalf("NormalizeHeader(%q)=(%q, %q, %v), want (%q, %q, %v)",
				tc.in, normalized, host, ok, tc.wantNormalized, tc.wantHost, tc.wantOK)
		}
	}
}

func TestIsAllowed_SameHostDefault(t *testing.T) {
	for _, tc := range []struct {
		name        string
		origin      string
		requestHost string
		want        bool
	}{
		{"exact match", "http://localhost:8080", "localhost:8080", true},
		{"case-insensitive host", "http://localhost:8080", "LOCALHOST:8080", true},
		{"default port equivalence", "https://example.com", "example.com:443", true},
		{"different port", "http://localhost:8080", "localhost:9090", false},
		{"different host", "http://evil.test", "localhost:8080", false},
		{"null origin", "null", "localhost:8080", false},
	} {
		normalized, originHost, ok := NormalizeHeader(tc.origin)
		if !ok {
			t.Fatalf("%s: NormalizeHeader(%q) failed", tc.name, tc.origin)
		}
		if got := IsAllowed(normalized, originHost, tc.requestHost, nil); got != tc.want {
			t.Fatalf("%s: IsAllowed=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsAllowed_AllowList(t *testing.T) {
	allowed := []string{"https://app.example.com"}

	if !IsAllowed("https://app.example.com", "app.example.com", "api.example.com", allowed) {
		t.Fatal("listed origin denied")
	}
	if IsAllowed("https://other.example.com", "other.example.com", "api.example.com", allowed) {
		t.Fatal("unlisted origin allowed")
	}
	if !IsAllowed("https://anything.test", "anything.test", "api.example.com", []string{"*"}) {
		t.Fatal("wildcard must allow everything")
	}
}
