package handlers

import (
	"errors"

	"github.com/duetapp/duet-backend/internal/dto"
	"github.com/duetapp/duet-backend/internal/middleware"
	"github.com/duetapp/duet-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type ModerationHandler struct {
	moderationService *services.ModerationService
}

func NewModerationHandler(moderationService *services.ModerationService) *ModerationHandler {
	return &ModerationHandler{moderationService: moderationService}
}

func (h *ModerationHandler) CreateReport(c *fiber.Ctx) error {
	reporterID, err := middleware.GetUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req dto.CreateReportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	report, err := h.moderationService.CreateReport(reporterID, &req)
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(report)
}

func (h *ModerationHandler) BlockUser(c *fiber.Ctx) error {
	blockerID, err := middleware.GetUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req dto.BlockUserRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.moderationService.BlockUser(blockerID, req.BlockedID); err != nil {
		if errors.Is(err, services.ErrSelfBlock) || errors.Is(err, services.ErrAlreadyBlocked) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		return internalError(c)
	}

	return c.JSON(fiber.Map{"message": "User blocked successfully"})
}

func (h *ModerationHandler) UnblockUser(c *fiber.Ctx) error {
	blockerID, err := middleware.GetUserID(c)
	if err != nil {
		return unauthorized(c)
	}

	blockedID := c.Params("id")
	if blockedID == "" {
		return badRequest(c, "Invalid user ID")
	}

	if err := h.moderationService.UnblockUser(blockerID, blockedID); err != nil {
		return internalError(c)
	}

	return c.JSON(fiber.Map{"message": "User unblocked successfully"})
}
