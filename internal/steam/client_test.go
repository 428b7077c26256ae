package steam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"sdabot/internal/domain"
	"sdabot/internal/store/memory"
)

var testAccount = domain.Account{
	Name:           "alice",
	Password:       "hunter2",
	SharedSecret:   "aGVsbG8gd29ybGQgc2hhcmVkIHNlY3JldCE=",
	IdentitySecret: "aWRlbnRpdHkgc2VjcmV0IGZvciB0ZXN0cyE=",
	SteamID:        "76561197960287930",
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c := NewClient(testAccount, zap.NewNop())
	c.communityURL = serverURL
	c.loginURL = serverURL
	c.apiURL = serverURL
	c.storeURL = serverURL
	c.retryDelay = 0
	c.pollInterval = 0
	return c
}

func signedToken(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func serveRSAKey(t *testing.T, key *rsa.PrivateKey, w http.ResponseWriter) {
	t.Helper()
	resp := map[string]map[string]string{"response": {
		"publickey_mod": fmt.Sprintf("%x", key.PublicKey.N),
		"publickey_exp": fmt.Sprintf("%x", key.PublicKey.E),
		"timestamp":     "123456",
	}}
	json.NewEncoder(w).Encode(resp)
}

func TestLoginHandshake(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	refreshToken := signedToken(t, testAccount.SteamID, time.Now().Add(24*time.Hour))

	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("/IAuthenticationService/GetPasswordRSAPublicKey/v1/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("account_name"); got != "alice" {
			t.Errorf("account_name = %q", got)
		}
		serveRSAKey(t, key, w)
	})
	mux.HandleFunc("/IAuthenticationService/BeginAuthSessionViaCredentials/v1/", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("persistence") != "1" {
			t.Errorf("persistence = %q", r.PostForm.Get("persistence"))
		}
		if r.PostForm.Get("encryption_timestamp") != "123456" {
			t.Errorf("encryption_timestamp = %q", r.PostForm.Get("encryption_timestamp"))
		}
		ciphertext, err := base64.StdEncoding.DecodeString(r.PostForm.Get("encrypted_password"))
		if err != nil {
			t.Errorf("encrypted_password not base64: %v", err)
		}
		plain, err := rsa.DecryptPKCS1v15(nil, key, ciphertext)
		if err != nil || string(plain) != "hunter2" {
			t.Errorf("password round trip failed: %q %v", plain, err)
		}
		fmt.Fprint(w, `{"response":{"client_id":"c1","request_id":"r1","steamid":"76561197960287930"}}`)
	})
	mux.HandleFunc("/IAuthenticationService/UpdateAuthSessionWithSteamGuardCode/v1/", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("code_type") != "3" {
			t.Errorf("code_type = %q", r.PostForm.Get("code_type"))
		}
		if len(r.PostForm.Get("code")) != 5 {
			t.Errorf("code = %q", r.PostForm.Get("code"))
		}
		w.Header().Set("X-Eresult", "1")
		fmt.Fprint(w, `{"response":{}}`)
	})
	mux.HandleFunc("/IAuthenticationService/PollAuthSessionStatus/v1/", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 3 {
			fmt.Fprint(w, `{"response":{}}`)
			return
		}
		fmt.Fprintf(w, `{"response":{"refresh_token":%q}}`, refreshToken)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL)
	token, err := c.Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != refreshToken {
		t.Fatalf("token = %q", token)
	}
	if polls != 3 {
		t.Fatalf("polls = %d, want 3", polls)
	}
}

func TestLoginRestartsOnRateLimit(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 1024)
	refreshToken := signedToken(t, testAccount.SteamID, time.Now().Add(24*time.Hour))

	var beginCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/IAuthenticationService/GetPasswordRSAPublicKey/v1/", func(w http.ResponseWriter, r *http.Request) {
		serveRSAKey(t, key, w)
	})
	mux.HandleFunc("/IAuthenticationService/BeginAuthSessionViaCredentials/v1/", func(w http.ResponseWriter, r *http.Request) {
		beginCalls++
		if beginCalls == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"response":{"client_id":"c1","request_id":"r1","steamid":"76561197960287930"}}`)
	})
	mux.HandleFunc("/IAuthenticationService/UpdateAuthSessionWithSteamGuardCode/v1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{}}`)
	})
	mux.HandleFunc("/IAuthenticationService/PollAuthSessionStatus/v1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"response":{"refresh_token":%q}}`, refreshToken)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL)
	token, err := c.Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != refreshToken {
		t.Fatalf("token = %q", token)
	}
	if beginCalls != 2 {
		t.Fatalf("beginCalls = %d, want 2", beginCalls)
	}
}

func TestLoginCaptchaRequired(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 1024)
	mux := http.NewServeMux()
	mux.HandleFunc("/IAuthenticationService/GetPasswordRSAPublicKey/v1/", func(w http.ResponseWriter, r *http.Request) {
		serveRSAKey(t, key, w)
	})
	mux.HandleFunc("/IAuthenticationService/BeginAuthSessionViaCredentials/v1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"captcha_needed":true}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.Login(context.Background()); !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("err = %v, want ErrCaptchaRequired", err)
	}
}

func TestFetchRSAKeyRetries(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 1024)
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		serveRSAKey(t, key, w)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	pub, ts, err := c.fetchRSAKey(context.Background())
	if err != nil {
		t.Fatalf("fetchRSAKey: %v", err)
	}
	if pub.N.Cmp(key.PublicKey.N) != 0 || ts != "123456" {
		t.Fatal("key mismatch")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestFetchRSAKeyGivesUp(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, _, err := c.fetchRSAKey(context.Background()); !errors.Is(err, ErrRSAKeyUnavailable) {
		t.Fatalf("err = %v, want ErrRSAKeyUnavailable", err)
	}
	if calls != rsaKeyAttempts {
		t.Fatalf("calls = %d, want %d", calls, rsaKeyAttempts)
	}
}

func TestBuildSession(t *testing.T) {
	refreshToken := signedToken(t, testAccount.SteamID, time.Now().Add(24*time.Hour))

	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/jwt/finalizelogin", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("nonce") != refreshToken {
			t.Errorf("nonce = %q", r.PostForm.Get("nonce"))
		}
		if len(r.PostForm.Get("sessionid")) != 2*sessionIDBytes {
			t.Errorf("sessionid = %q", r.PostForm.Get("sessionid"))
		}
		fmt.Fprintf(w, `{"steamID":"76561197960287930","transfer_info":[{"url":%q,"params":{"nonce":"n1","auth":"a1"}}]}`,
			serverURL+"/transfer")
	})
	mux.HandleFunc("/transfer", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("steamID") != "76561197960287930" {
			t.Errorf("steamID = %q", r.PostForm.Get("steamID"))
		}
		if r.PostForm.Get("auth") != "a1" {
			t.Errorf("auth = %q", r.PostForm.Get("auth"))
		}
		http.SetCookie(w, &http.Cookie{Name: "steamLoginSecure", Value: "76561197960287930||tok", Path: "/"})
		fmt.Fprint(w, `{"result":1}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	c := newTestClient(t, server.URL)
	state, err := c.BuildSession(context.Background(), refreshToken)
	if err != nil {
		t.Fatalf("BuildSession: %v", err)
	}
	if state.RefreshToken != refreshToken {
		t.Fatal("refresh token not carried into session state")
	}
	if len(state.SessionID) != 2*sessionIDBytes {
		t.Fatalf("session id = %q", state.SessionID)
	}
	host := server.Listener.Addr().String()
	if _, ok := state.Get("steamLoginSecure", host); !ok {
		t.Fatalf("steamLoginSecure missing from %+v", state.Cookies)
	}
	if ck, ok := state.Get("sessionid", host); !ok || ck.Value != state.SessionID {
		t.Fatalf("sessionid cookie not overwritten: %+v", state.Cookies)
	}
}

func TestBuildSessionExpiredToken(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	expired := signedToken(t, testAccount.SteamID, time.Now().Add(-time.Hour))
	if _, err := c.BuildSession(context.Background(), expired); !errors.Is(err, ErrRefreshCredentialExpired) {
		t.Fatalf("err = %v, want ErrRefreshCredentialExpired", err)
	}
}

func TestBuildSessionRejectedNonce(t *testing.T) {
	refreshToken := signedToken(t, testAccount.SteamID, time.Now().Add(time.Hour))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":29}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.BuildSession(context.Background(), refreshToken); !errors.Is(err, ErrRefreshCredentialExpired) {
		t.Fatalf("err = %v, want ErrRefreshCredentialExpired", err)
	}
}

func TestBuildSessionTransferReportsExpiredCredential(t *testing.T) {
	refreshToken := signedToken(t, testAccount.SteamID, time.Now().Add(time.Hour))

	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/jwt/finalizelogin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"steamID":"76561197960287930","transfer_info":[{"url":%q,"params":{"nonce":"n1","auth":"a1"}}]}`,
			serverURL+"/transfer")
	})
	mux.HandleFunc("/transfer", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "steamLoginSecure", Value: "76561197960287930||tok", Path: "/"})
		fmt.Fprintf(w, `{"result":1,"rtExpiry":%d}`, time.Now().Add(-time.Minute).Unix())
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	c := newTestClient(t, server.URL)
	if _, err := c.BuildSession(context.Background(), refreshToken); !errors.Is(err, ErrRefreshCredentialExpired) {
		t.Fatalf("err = %v, want ErrRefreshCredentialExpired", err)
	}
}

func TestSteamIDFromToken(t *testing.T) {
	token := signedToken(t, "76561197960287930", time.Now().Add(time.Hour))
	id, err := SteamIDFromToken(token)
	if err != nil {
		t.Fatalf("SteamIDFromToken: %v", err)
	}
	if id != "76561197960287930" {
		t.Fatalf("id = %q", id)
	}
	if _, err := SteamIDFromToken("garbage"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestIsAlive(t *testing.T) {
	var loggedIn bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loggedIn {
			fmt.Fprint(w, `<html><body>Welcome back, Alice</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>Sign in</body></html>`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	alive, err := c.IsAlive(context.Background())
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if alive {
		t.Fatal("anonymous page reported alive")
	}
	loggedIn = true
	alive, err = c.IsAlive(context.Background())
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if !alive {
		t.Fatal("logged in page reported dead")
	}
}

func TestAccessToken(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	if _, err := c.AccessToken(); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	c.setCookie(c.communityURL, "steamLoginSecure", url.QueryEscape("76561197960287930||bearer-token"))
	token, err := c.AccessToken()
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if token != "bearer-token" {
		t.Fatalf("token = %q", token)
	}
}

func TestTooManyRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	if _, err := c.get(context.Background(), server.URL+"/"); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("err = %v, want ErrTooManyRequests", err)
	}
}

func TestEnsureSessionDeadRebuildFallsBackToLogin(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	storedToken := signedToken(t, testAccount.SteamID, time.Now().Add(12*time.Hour))
	freshToken := signedToken(t, testAccount.SteamID, time.Now().Add(24*time.Hour))

	var serverURL string
	var beginCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>Sign in</body></html>`)
	})
	mux.HandleFunc("/IAuthenticationService/GetPasswordRSAPublicKey/v1/", func(w http.ResponseWriter, r *http.Request) {
		serveRSAKey(t, key, w)
	})
	mux.HandleFunc("/IAuthenticationService/BeginAuthSessionViaCredentials/v1/", func(w http.ResponseWriter, r *http.Request) {
		beginCalls++
		fmt.Fprint(w, `{"response":{"client_id":"c1","request_id":"r1","steamid":"76561197960287930"}}`)
	})
	mux.HandleFunc("/IAuthenticationService/UpdateAuthSessionWithSteamGuardCode/v1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{}}`)
	})
	mux.HandleFunc("/IAuthenticationService/PollAuthSessionStatus/v1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"response":{"refresh_token":%q}}`, freshToken)
	})
	mux.HandleFunc("/jwt/finalizelogin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"steamID":"76561197960287930","transfer_info":[{"url":%q,"params":{"nonce":"n1","auth":"a1"}}]}`,
			serverURL+"/transfer")
	})
	mux.HandleFunc("/transfer", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "steamLoginSecure", Value: "76561197960287930||tok", Path: "/"})
		fmt.Fprint(w, `{"result":1}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	sessions := memory.NewStore()
	ctx := context.Background()
	stored := domain.SessionState{
		SessionID:    "stalestale",
		RefreshToken: storedToken,
		UpdatedAt:    time.Now().Add(-time.Hour),
	}
	if err := sessions.SaveSession(ctx, testAccount.Name, stored); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	c := newTestClient(t, server.URL)
	state, err := c.EnsureSession(ctx, sessions)
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if state.RefreshToken != freshToken {
		t.Fatal("rebuilt session that never passed the liveness check was accepted")
	}
	if beginCalls != 1 {
		t.Fatalf("beginCalls = %d, want exactly one credential handshake", beginCalls)
	}

	saved, err := sessions.LoadSession(ctx, testAccount.Name)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if saved.RefreshToken != freshToken {
		t.Fatal("relogin session was not persisted")
	}
}

func TestEnsureSessionFullRelogin(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	freshToken := signedToken(t, testAccount.SteamID, time.Now().Add(24*time.Hour))

	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>Sign in</body></html>`)
	})
	mux.HandleFunc("/IAuthenticationService/GetPasswordRSAPublicKey/v1/", func(w http.ResponseWriter, r *http.Request) {
		serveRSAKey(t, key, w)
	})
	mux.HandleFunc("/IAuthenticationService/BeginAuthSessionViaCredentials/v1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"client_id":"c1","request_id":"r1","steamid":"76561197960287930"}}`)
	})
	mux.HandleFunc("/IAuthenticationService/UpdateAuthSessionWithSteamGuardCode/v1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{}}`)
	})
	mux.HandleFunc("/IAuthenticationService/PollAuthSessionStatus/v1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"response":{"refresh_token":%q}}`, freshToken)
	})
	mux.HandleFunc("/jwt/finalizelogin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"steamID":"76561197960287930","transfer_info":[{"url":%q,"params":{"nonce":"n1","auth":"a1"}}]}`,
			serverURL+"/transfer")
	})
	mux.HandleFunc("/transfer", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "steamLoginSecure", Value: "76561197960287930||tok", Path: "/"})
		fmt.Fprint(w, `{"result":1}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	sessions := memory.NewStore()
	stale := domain.SessionState{
		SessionID:    "stalestale",
		RefreshToken: signedToken(t, testAccount.SteamID, time.Now().Add(-time.Hour)),
		UpdatedAt:    time.Now().Add(-48 * time.Hour),
	}
	ctx := context.Background()
	if err := sessions.SaveSession(ctx, testAccount.Name, stale); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	c := newTestClient(t, server.URL)
	state, err := c.EnsureSession(ctx, sessions)
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if state.RefreshToken != freshToken {
		t.Fatal("session did not pick up the fresh refresh token")
	}

	saved, err := sessions.LoadSession(ctx, testAccount.Name)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if saved.RefreshToken != freshToken {
		t.Fatal("fresh session was not persisted")
	}
}
