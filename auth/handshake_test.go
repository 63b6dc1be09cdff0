package auth

import (
	"encoding/base64"
	"net/http/httptest"
	"net/url"
	"testing"
)

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestAuthenticateDefaultCredentials(t *testing.T) {
	h := NewDefaultHandshake()

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", basicHeader(DefaultUsername, DefaultPassword))

	if !h.Authenticate(req) {
		t.Fatal("expected default credentials to authenticate")
	}
}

func TestAuthenticateWrongCredentials(t *testing.T) {
	h := NewDefaultHandshake()

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", basicHeader("nope", "nope"))

	if h.Authenticate(req) {
		t.Fatal("expected wrong credentials to fail")
	}
}

func TestAuthenticateMissingHeader(t *testing.T) {
	h := NewDefaultHandshake()
	req := httptest.NewRequest("GET", "/", nil)

	if h.Authenticate(req) {
		t.Fatal("expected missing header to fail")
	}
}

func TestAuthenticateQueryFallback(t *testing.T) {
	h := NewDefaultHandshake()
	req := httptest.NewRequest("GET", "/?Authorization="+url.QueryEscape(basicHeader(DefaultUsername, DefaultPassword)), nil)

	if !h.Authenticate(req) {
		t.Fatal("expected query-string fallback to authenticate")
	}
}
