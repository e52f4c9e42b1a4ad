package handlers

import (
	"errors"

	"github.com/duetapp/duet-backend/internal/dto"
	"github.com/duetapp/duet-backend/internal/identity"
	"github.com/duetapp/duet-backend/internal/middleware"
	"github.com/duetapp/duet-backend/internal/models"
	"github.com/duetapp/duet-backend/internal/otp"
	"github.com/duetapp/duet-backend/internal/services"
	"github.com/duetapp/duet-backend/internal/session"
	"github.com/duetapp/duet-backend/internal/store"
	"github.com/duetapp/duet-backend/internal/token"
	"github.com/gofiber/fiber/v2"
)

// AuthHandler exposes the session manager to the mobile UI.
type AuthHandler struct {
	manager *session.Manager
	// exposeDevCode echoes issued OTP codes in responses. Dev builds only;
	// there is no real SMS/email delivery channel in this backend.
	exposeDevCode bool
}

func NewAuthHandler(manager *session.Manager, exposeDevCode bool) *AuthHandler {
	return &AuthHandler{manager: manager, exposeDevCode: exposeDevCode}
}

// NewSessionResponse flattens a session snapshot for the wire.
func NewSessionResponse(snap session.Snapshot) dto.SessionResponse {
	return dto.SessionResponse{
		User:            snap.User,
		IsAuthenticated: snap.IsAuthenticated,
		IsLoading:       snap.IsLoading,
		OnboardingStep:  int(snap.OnboardingStep),
	}
}

func (h *AuthHandler) SendOTP(c *fiber.Ctx) error {
	var req dto.SendOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	issued, err := h.manager.SendOTP(c.Context(), req.Identifier)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return badRequest(c, err.Error())
		}
		return internalError(c)
	}

	resp := dto.SendOTPResponse{Identifier: req.Identifier, ExpiresAt: issued.ExpiresAt}
	if h.exposeDevCode {
		resp.Code = issued.Code
	}
	return c.JSON(resp)
}

func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	var req dto.VerifyOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	result, err := h.manager.VerifyOTP(c.Context(), req.Identifier, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			return badRequest(c, err.Error())
		case errors.Is(err, otp.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: true, Message: "No pending code for this identifier",
			})
		case errors.Is(err, otp.ErrExpired):
			return c.Status(fiber.StatusGone).JSON(dto.ErrorResponse{
				Error: true, Message: "Code expired, request a new one",
			})
		case errors.Is(err, otp.ErrMismatch):
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Incorrect code",
			})
		}
		return internalError(c)
	}

	return c.JSON(authResponse(result))
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	result, err := h.manager.Login(c.Context(), req.Provider, req.Credentials)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownProvider) || errors.Is(err, identity.ErrMissingEmail) {
			return badRequest(c, err.Error())
		}
		return internalError(c)
	}

	return c.JSON(authResponse(result))
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	result, err := h.manager.Restore(c.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, token.ErrInvalidToken) || errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid or expired refresh token",
			})
		}
		return internalError(c)
	}

	return c.JSON(authResponse(result))
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.requireSessionUser(c); err != nil {
		return err
	}
	if err := h.manager.Logout(c.Context()); err != nil {
		return internalError(c)
	}
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

func (h *AuthHandler) GetSession(c *fiber.Ctx) error {
	if err := h.requireSessionUser(c); err != nil {
		return err
	}
	return c.JSON(NewSessionResponse(h.manager.Snapshot()))
}

func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	if err := h.requireSessionUser(c); err != nil {
		return err
	}

	var update models.ProfileUpdate
	if err := c.BodyParser(&update); err != nil {
		return badRequest(c, "Invalid request body")
	}

	user, err := h.manager.UpdateProfile(c.Context(), update)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			return badRequest(c, err.Error())
		case errors.Is(err, store.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: true, Message: "User not found",
			})
		case errors.Is(err, session.ErrNotAuthenticated):
			return unauthorized(c)
		}
		return internalError(c)
	}

	return c.JSON(user)
}

func (h *AuthHandler) CompleteProfile(c *fiber.Ctx) error {
	if err := h.requireSessionUser(c); err != nil {
		return err
	}

	user, err := h.manager.CompleteProfile(c.Context())
	if err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) {
			return unauthorized(c)
		}
		return internalError(c)
	}
	return c.JSON(user)
}

func (h *AuthHandler) SetOnboardingStep(c *fiber.Ctx) error {
	if err := h.requireSessionUser(c); err != nil {
		return err
	}

	var req dto.SetOnboardingStepRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.manager.SetOnboardingStep(session.Step(req.Step)); err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			return badRequest(c, err.Error())
		case errors.Is(err, session.ErrNotAuthenticated):
			return unauthorized(c)
		}
		return internalError(c)
	}

	return c.JSON(NewSessionResponse(h.manager.Snapshot()))
}

// requireSessionUser rejects tokens minted for a user other than the active
// session's. The process holds one session; a stale token from a previous
// login must not operate on the current one.
func (h *AuthHandler) requireSessionUser(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	snap := h.manager.Snapshot()
	if snap.User == nil || snap.User.ID != userID {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Token does not match the active session",
		})
	}
	return nil
}

func authResponse(result *services.AuthResult) dto.AuthResponse {
	return dto.AuthResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		IsNewUser:    result.IsNewUser,
		User:         result.User,
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Message: message,
	})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error: true, Message: "Unauthorized",
	})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error: true, Message: "Internal server error",
	})
}
