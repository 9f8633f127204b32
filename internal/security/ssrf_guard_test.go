package security

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewSSRFGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout, 1024)
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
}

// TestNewSafeClientHasTransport はSafeClientにカスタムTransportが設定されていることをテストする。
func TestNewSafeClientHasTransport(t *testing.T) {
	guard := NewSSRFGuard()
	client := guard.NewSafeClient(5*time.Second, 1024)

	if client.Transport == nil {
		t.Fatal("expected custom Transport to be set, got nil")
	}
	if client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport, got http.DefaultTransport")
	}
}

// TestNewSafeClientBlocksLoopback はループバックへのリクエストがブロックされることをテストする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	guard := NewSSRFGuard()
	client := guard.NewSafeClient(2*time.Second, 1024)

	_, err := client.Get("https://127.0.0.1/token")
	if err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

type stubRoundTripper struct {
	body string
}

func (s stubRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

// TestLimitedTransport_TruncatesBody はレスポンスボディが上限で打ち切られることをテストする。
func TestLimitedTransport_TruncatesBody(t *testing.T) {
	client := &http.Client{Transport: &limitedTransport{base: stubRoundTripper{body: "0123456789"}, limit: 4}}

	resp, err := client.Get("https://example.com/certs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	got, _ := io.ReadAll(resp.Body)
	if string(got) != "0123" {
		t.Errorf("body = %q, want %q", got, "0123")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"google token endpoint", "https://oauth2.googleapis.com/token", false},
		{"google certs", "https://www.googleapis.com/oauth2/v3/certs", false},
		{"plain http", "http://oauth2.googleapis.com/token", true},
		{"empty", "", true},
		{"no scheme", "not-a-url", true},
		{"file scheme", "file:///etc/passwd", true},
		{"private 10/8", "https://10.0.0.1/token", true},
		{"private 172.16/12", "https://172.16.0.1/token", true},
		{"private 192.168/16", "https://192.168.1.100/token", true},
		{"loopback", "https://127.0.0.1/token", true},
		{"localhost", "https://localhost/token", true},
		{"localhost subdomain", "https://idp.localhost/token", true},
		{"ipv4-mapped loopback", "https://[::ffff:127.0.0.1]/token", true},
		{"metadata ip", "https://169.254.169.254/latest/meta-data/", true},
		{"ipv6 loopback", "https://[::1]/token", true},
		{"zero address", "https://0.0.0.0/token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

// TestSSRFGuardInterface はSSRFGuardがインターフェースを正しく実装していることをテストする。
func TestSSRFGuardInterface(t *testing.T) {
	var _ SSRFGuardService = NewSSRFGuard()
}
