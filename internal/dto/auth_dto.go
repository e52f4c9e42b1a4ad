package dto

import (
	"time"

	"github.com/duetapp/duet-backend/internal/identity"
	"github.com/duetapp/duet-backend/internal/models"
)

type SendOTPRequest struct {
	Identifier string `json:"identifier"`
}

type SendOTPResponse struct {
	Identifier string    `json:"identifier"`
	ExpiresAt  time.Time `json:"expires_at"`
	// Code is populated only when dev code exposure is enabled.
	Code string `json:"code,omitempty"`
}

type VerifyOTPRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

type LoginRequest struct {
	Provider    string               `json:"provider"`
	Credentials identity.Credentials `json:"credentials"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type SetOnboardingStepRequest struct {
	Step int `json:"step"`
}

type AuthResponse struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	IsNewUser    bool              `json:"is_new_user"`
	User         models.UserRecord `json:"user"`
}

type SessionResponse struct {
	User            *models.UserRecord `json:"user"`
	IsAuthenticated bool               `json:"is_authenticated"`
	IsLoading       bool               `json:"is_loading"`
	OnboardingStep  int                `json:"onboarding_step"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Storage   string `json:"storage"`
	DB        string `json:"db"`
}
