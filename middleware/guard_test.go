package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/casework/authcore"
	"github.com/casework/authcore/account"
)

type stubValidator struct {
	claims *authcore.Claims
	err    error
	seen   string
}

func (s *stubValidator) Validate(_ context.Context, token string) (*authcore.Claims, error) {
	s.seen = token
	return s.claims, s.err
}

func echoRole() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, claims.Role)
	})
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/cases", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardPassesClaims(t *testing.T) {
	v := &stubValidator{claims: &authcore.Claims{Role: "staff"}}
	rec := serve(Guard(v)(echoRole()), "Bearer abc.def.ghi")

	if rec.Code != http.StatusOK || rec.Body.String() != "staff" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if v.seen != "abc.def.ghi" {
		t.Fatalf("validator saw %q", v.seen)
	}
}

func TestGuardRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
		want   int
	}{
		{"missing header", "", nil, http.StatusUnauthorized},
		{"wrong scheme", "Basic YWxpY2U6c2VjcmV0", nil, http.StatusUnauthorized},
		{"empty token", "Bearer   ", nil, http.StatusUnauthorized},
		{"expired", "Bearer t", authcore.ErrTokenExpired, http.StatusUnauthorized},
		{"revoked", "Bearer t", authcore.ErrTokenRevoked, http.StatusUnauthorized},
		{"store down", "Bearer t", fmt.Errorf("%w: dial tcp", authcore.ErrRevocationUnavailable), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubValidator{claims: &authcore.Claims{Role: "staff"}, err: tt.err}
			if tt.err != nil {
				v.claims = nil
			}
			rec := serve(Guard(v)(echoRole()), tt.header)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestGuardNilValidator(t *testing.T) {
	rec := serve(Guard(nil)(echoRole()), "Bearer t")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerTokenCaseInsensitiveScheme(t *testing.T) {
	if tok, ok := BearerToken("bearer xyz"); !ok || tok != "xyz" {
		t.Fatalf("unexpected %q %v", tok, ok)
	}
	if _, ok := BearerToken("Bearerxyz"); ok {
		t.Fatal("scheme without separator accepted")
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(account.RoleAdmin)(echoRole())

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without claims, got %d", rec.Code)
	}

	for role, want := range map[string]int{"staff": http.StatusForbidden, "admin": http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req = req.WithContext(WithClaims(req.Context(), &authcore.Claims{Role: role}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("role %s: expected %d, got %d", role, want, rec.Code)
		}
	}
}
