package handlers

import (
	"time"

	"github.com/duetapp/duet-backend/internal/database"
	"github.com/duetapp/duet-backend/internal/dto"
	"github.com/duetapp/duet-backend/internal/kvstore"
	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	storage kvstore.Store
}

func NewHealthHandler(storage kvstore.Store) *HealthHandler {
	return &HealthHandler{storage: storage}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	storageStatus := "ok"
	if _, _, err := h.storage.Get(c.Context(), "health.probe"); err != nil {
		storageStatus = "unhealthy: " + err.Error()
	}

	dbStatus := "ok"
	if err := database.Ping(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Storage:   storageStatus,
		DB:        dbStatus,
	})
}
