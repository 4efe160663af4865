package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assess-api/internal/middleware"
	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/service"
	"github.com/noah-isme/gema-assess-api/internal/utils"
)

// FieldError describes one rejected request field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return observability.WithCorrelationID(ctx, middleware.GetCorrelationID(c))
}

// resolveUserID prefers the authenticated subject and falls back to the id the client sent.
func resolveUserID(c *fiber.Ctx, fallback string) string {
	if id, ok := c.Locals(middleware.LocalUserID).(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	return strings.TrimSpace(fallback)
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	if c == nil {
		return &base
	}
	return observability.Logger(requestContext(c), base)
}

func fieldErrors(err error) []FieldError {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	fields := make([]FieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return fields
}

// respondError maps the service error taxonomy onto HTTP status codes.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	switch service.ErrorKind(err) {
	case service.KindValidation:
		if fields := fieldErrors(err); fields != nil {
			return utils.Fail(c, fiber.StatusBadRequest, "validation failed", fields)
		}
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case service.KindNotFound:
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case service.KindConflict:
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case service.KindUpstream:
		requestLogger(logger, c).Warn().Err(err).Msg("upstream failure")
		return utils.SendError(c, fiber.StatusBadGateway, "ai provider unavailable")
	default:
		requestLogger(logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
