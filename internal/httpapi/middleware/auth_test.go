package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var (
	_ AdminAuthorizer = Keys{}
	_ AdminAuthorizer = AllowAll{}
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func do(h http.Handler, header, value string) int {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAdmin_AllowsAdminKey_BlocksPublicKey(t *testing.T) {
	keys := Keys{
		PublicKeys: []string{"pub_key"},
		AdminKeys:  []string{"adm_key"},
	}
	h := RequireAdmin(keys)(okHandler)

	if code := do(h, "X-API-Key", "adm_key"); code != http.StatusOK {
		t.Fatalf("admin key should pass; got %d", code)
	}
	if code := do(h, "Authorization", "Bearer adm_key"); code != http.StatusOK {
		t.Fatalf("admin bearer should pass; got %d", code)
	}
	if code := do(h, "X-API-Key", "pub_key"); code != http.StatusForbidden {
		t.Fatalf("public key should be forbidden; got %d", code)
	}
	if code := do(h, "", ""); code != http.StatusUnauthorized {
		t.Fatalf("missing key should be 401; got %d", code)
	}
}

func TestRequireAuth_PublicOrAdmin(t *testing.T) {
	h := RequireAuth(Keys{PublicKeys: []string{"pub"}, AdminKeys: []string{"adm"}})(okHandler)

	cases := []struct {
		header, value string
		want          int
	}{
		{"X-API-Key", "pub", 200},
		{"X-API-Key", "adm", 200},
		{"Authorization", "bearer pub", 200},
		{"Authorization", "Basic pub", 401},
		{"X-API-Key", "nope", 401},
		{"", "", 401},
	}
	for _, c := range cases {
		if got := do(h, c.header, c.value); got != c.want {
			t.Fatalf("%s=%q: want %d got %d", c.header, c.value, c.want, got)
		}
	}
}

func TestKeys_EmptySetFailsClosed(t *testing.T) {
	h := RequireAuth(Keys{})(okHandler)
	if code := do(h, "X-API-Key", ""); code != http.StatusUnauthorized {
		t.Fatalf("no keys configured must deny; got %d", code)
	}
	if code := do(h, "X-API-Key", "anything"); code != http.StatusUnauthorized {
		t.Fatalf("no keys configured must deny; got %d", code)
	}
	if code := do(RequireAdmin(AllowAll{})(okHandler), "", ""); code != http.StatusOK {
		t.Fatalf("AllowAll should pass; got %d", code)
	}
}

func TestKeys_AdminKeyIsAlsoAuthorized(t *testing.T) {
	k := Keys{PublicKeys: []string{"pub"}, AdminKeys: []string{"adm"}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "adm")
	if !k.Authorized(req) || !k.Admin(req) {
		t.Fatalf("admin key should be authorized and admin")
	}
	req.Header.Set("X-API-Key", "pub")
	if !k.Authorized(req) || k.Admin(req) {
		t.Fatalf("public key should be authorized but not admin")
	}
}
