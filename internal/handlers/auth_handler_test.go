package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/duetapp/duet-backend/internal/config"
	"github.com/duetapp/duet-backend/internal/dto"
	"github.com/duetapp/duet-backend/internal/handlers"
	"github.com/duetapp/duet-backend/internal/identity"
	"github.com/duetapp/duet-backend/internal/kvstore"
	"github.com/duetapp/duet-backend/internal/otp"
	"github.com/duetapp/duet-backend/internal/routes"
	"github.com/duetapp/duet-backend/internal/services"
	"github.com/duetapp/duet-backend/internal/session"
	"github.com/duetapp/duet-backend/internal/store"
	"github.com/duetapp/duet-backend/internal/token"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// newTestApp wires the full HTTP surface over memory storage with a seeded
// OTP generator. The clock pointer lets tests age pending codes; token
// signing uses it too, so tests that present a JWT should not move it.
func newTestApp(t *testing.T, now *time.Time, codes ...string) *fiber.App {
	t.Helper()
	cfg := &config.Config{JWTSecret: "test-secret", CORSOrigins: "*"}
	storage := kvstore.NewMemoryStore()
	clock := func() time.Time { return *now }

	n := 0
	credStore := store.New(storage,
		store.WithClock(clock),
		store.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("user-%d", n)
		}),
	)

	i := 0
	otpService := otp.New(storage,
		otp.WithClock(clock),
		otp.WithGenerator(func() (string, error) {
			code := codes[i]
			if i < len(codes)-1 {
				i++
			}
			return code, nil
		}),
		otp.WithBcryptCost(bcrypt.MinCost),
	)

	tokens := token.NewIssuer(storage, cfg.JWTSecret, 15*time.Minute, 24*time.Hour,
		token.WithClock(clock))

	auth := services.NewAuthService(credStore, otpService, tokens,
		[]identity.Provider{identity.NewStub("google")},
		services.NewModerationService(nil))
	manager := session.NewManager(auth)

	app := fiber.New()
	routes.Setup(app, cfg,
		handlers.NewAuthHandler(manager, true),
		handlers.NewHealthHandler(storage),
		nil)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	return out
}

func TestOTPFlowOverHTTP(t *testing.T) {
	now := time.Now()
	app := newTestApp(t, &now, "123456")

	resp := postJSON(t, app, "/api/auth/otp/send", dto.SendOTPRequest{Identifier: "a@b.com"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send: expected 200, got %d", resp.StatusCode)
	}
	sent := decode[dto.SendOTPResponse](t, resp)
	if sent.Code != "123456" {
		t.Fatalf("expected dev code echoed, got %q", sent.Code)
	}

	resp = postJSON(t, app, "/api/auth/otp/verify",
		dto.VerifyOTPRequest{Identifier: "a@b.com", Code: sent.Code}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", resp.StatusCode)
	}
	authResp := decode[dto.AuthResponse](t, resp)
	if !authResp.IsNewUser || authResp.AccessToken == "" {
		t.Fatalf("unexpected auth response: %+v", authResp)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+authResp.AccessToken)
	res, err := app.Test(req)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("session: expected 200, got %d", res.StatusCode)
	}
	sess := decode[dto.SessionResponse](t, res)
	if !sess.IsAuthenticated || sess.User == nil || sess.User.ID != authResp.User.ID {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.OnboardingStep != 0 {
		t.Fatalf("new user must start at step 0, got %d", sess.OnboardingStep)
	}
}

func TestVerifyOTPErrorStatuses(t *testing.T) {
	now := time.Now()
	app := newTestApp(t, &now, "123456")

	// Never issued.
	resp := postJSON(t, app, "/api/auth/otp/verify",
		dto.VerifyOTPRequest{Identifier: "a@b.com", Code: "123456"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for never-issued, got %d", resp.StatusCode)
	}

	// Wrong code.
	postJSON(t, app, "/api/auth/otp/send", dto.SendOTPRequest{Identifier: "a@b.com"}, nil)
	resp = postJSON(t, app, "/api/auth/otp/verify",
		dto.VerifyOTPRequest{Identifier: "a@b.com", Code: "999999"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for mismatch, got %d", resp.StatusCode)
	}

	// Malformed identifier.
	resp = postJSON(t, app, "/api/auth/otp/send", dto.SendOTPRequest{Identifier: "not an email"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad identifier, got %d", resp.StatusCode)
	}
}

func TestVerifyExpiredCodeIsGone(t *testing.T) {
	now := time.Now()
	app := newTestApp(t, &now, "123456")

	postJSON(t, app, "/api/auth/otp/send", dto.SendOTPRequest{Identifier: "a@b.com"}, nil)

	now = now.Add(otp.TTL + time.Second)
	resp := postJSON(t, app, "/api/auth/otp/verify",
		dto.VerifyOTPRequest{Identifier: "a@b.com", Code: "123456"}, nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410 for expired code, got %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRejectBadTokens(t *testing.T) {
	now := time.Now()
	app := newTestApp(t, &now, "123456")

	// No token at all.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// A valid token whose user is no longer the active session.
	loginResp := postJSON(t, app, "/api/auth/login",
		dto.LoginRequest{Provider: "google", Credentials: identity.Credentials{Email: "u@g.com"}}, nil)
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", loginResp.StatusCode)
	}
	authResp := decode[dto.AuthResponse](t, loginResp)

	logout := postJSON(t, app, "/api/auth/logout", fiber.Map{},
		map[string]string{"Authorization": "Bearer " + authResp.AccessToken})
	if logout.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", logout.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+authResp.AccessToken)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a stale token, got %d", resp.StatusCode)
	}
}

func TestProfileAndOnboardingOverHTTP(t *testing.T) {
	now := time.Now()
	app := newTestApp(t, &now, "123456")

	loginResp := postJSON(t, app, "/api/auth/login",
		dto.LoginRequest{Provider: "google", Credentials: identity.Credentials{Email: "u@g.com"}}, nil)
	authResp := decode[dto.AuthResponse](t, loginResp)
	bearer := map[string]string{"Authorization": "Bearer " + authResp.AccessToken}

	payload, _ := json.Marshal(fiber.Map{"bio": "weekend climber"})
	req := httptest.NewRequest(http.MethodPatch, "/api/auth/profile", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer["Authorization"])
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", resp.StatusCode)
	}

	// Moderated content comes back as a validation error.
	payload, _ = json.Marshal(fiber.Map{"bio": "text me at 555-123-4567"})
	req = httptest.NewRequest(http.MethodPatch, "/api/auth/profile", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer["Authorization"])
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for moderated bio, got %d", resp.StatusCode)
	}

	payload, _ = json.Marshal(dto.SetOnboardingStepRequest{Step: 2})
	req = httptest.NewRequest(http.MethodPut, "/api/auth/onboarding/step", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer["Authorization"])
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("put step: %v", err)
	}
	sess := decode[dto.SessionResponse](t, resp)
	if sess.OnboardingStep != 2 {
		t.Fatalf("expected step 2, got %d", sess.OnboardingStep)
	}

	complete := postJSON(t, app, "/api/auth/profile/complete", fiber.Map{}, bearer)
	if complete.StatusCode != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", complete.StatusCode)
	}
	sessReq := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	sessReq.Header.Set("Authorization", bearer["Authorization"])
	sessResp, err := app.Test(sessReq)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	sess = decode[dto.SessionResponse](t, sessResp)
	if sess.OnboardingStep != 4 || !sess.User.OnboardingComplete {
		t.Fatalf("expected completed onboarding, got step=%d complete=%v", sess.OnboardingStep, sess.User.OnboardingComplete)
	}
}
