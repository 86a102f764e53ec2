package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func request(t *testing.T, mutate func(*http.Request)) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	mutate(r)
	return r
}

func TestExtractToken(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*http.Request)
		want   string
	}{
		{
			name:   "bearer header",
			mutate: func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok123") },
			want:   "tok123",
		},
		{
			name:   "case insensitive scheme",
			mutate: func(r *http.Request) { r.Header.Set("Authorization", "bearer tok123") },
			want:   "tok123",
		},
		{
			name:   "malformed header yields nothing",
			mutate: func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcg==") },
			want:   "",
		},
		{
			name: "cookie fallback",
			mutate: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-tok"})
			},
			want: "cookie-tok",
		},
		{
			name:   "query fallback for websocket upgrades",
			mutate: func(r *http.Request) { r.URL.RawQuery = "access_token=query-tok" },
			want:   "query-tok",
		},
		{
			name: "header wins over cookie and query",
			mutate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer header-tok")
				r.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-tok"})
				r.URL.RawQuery = "access_token=query-tok"
			},
			want: "header-tok",
		},
		{
			name:   "no credentials",
			mutate: func(r *http.Request) {},
			want:   "",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := extractToken(request(t, c.mutate)); got != c.want {
				t.Errorf("extractToken = %q, want %q", got, c.want)
			}
		})
	}
}
