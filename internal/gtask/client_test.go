package gtask

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"incidencia/internal/config"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.AuthService.BaseURL = baseURL
	cfg.AuthService.Timeout = 1
	return &cfg
}

func TestLoginSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/login" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"_id":"u-1","username":"ana","email":"ana@x.es","access_token":"tok-abc"}`))
	}))
	defer srv.Close()

	res, err := New(testConfig(srv.URL)).Login(context.Background(), "ana", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Identity.ID != "u-1" || res.AccessToken != "tok-abc" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"wrong password"}`))
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).Login(context.Background(), "ana", "bad")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).Login(context.Background(), "ana", "pw")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestLoginConnectionFailure(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1") // nothing listens here
	_, err := New(cfg).Login(context.Background(), "ana", "pw")
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestLoginMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"_id":"u-1","username":"ana"}`))
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).Login(context.Background(), "ana", "pw")
	if !errors.Is(err, ErrUnexpected) {
		t.Fatalf("expected ErrUnexpected, got %v", err)
	}
}

func TestUsersSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-abc" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte(`[{"_id":"u-1","username":"ana"},{"_id":"u-2","username":"bea"}]`))
	}))
	defer srv.Close()

	users, err := New(testConfig(srv.URL)).Users(context.Background(), "tok-abc")
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len(users) = %d", len(users))
	}
}
