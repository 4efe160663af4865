package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assess-api/internal/dto"
	"github.com/noah-isme/gema-assess-api/internal/service"
	"github.com/noah-isme/gema-assess-api/internal/utils"
)

// SessionHandler exposes the assessment session lifecycle.
type SessionHandler struct {
	service   service.SessionService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(service service.SessionService, validator *validator.Validate, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "session_handler").Logger(),
	}
}

// Register wires session routes.
func (h *SessionHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("/opt-in", h.optIn)
	router.Post("/start", h.start)
	router.Get("/:id", h.get)
	router.Post("/:id/submit-section", h.submitSection)
	router.Post("/:id/complete", h.complete)
}

func (h *SessionHandler) optIn(c *fiber.Ctx) error {
	var payload dto.OptInRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondError(c, h.logger, err)
	}

	session, err := h.service.OptIn(requestContext(c), resolveUserID(c, payload.UserID), payload.AssessmentID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "opted in", dto.NewSessionResponse(session))
}

func (h *SessionHandler) start(c *fiber.Ctx) error {
	var payload dto.StartSessionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondError(c, h.logger, err)
	}

	session, err := h.service.Start(requestContext(c), payload.SessionID, resolveUserID(c, payload.UserID))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "session started", dto.NewSessionResponse(session))
}

func (h *SessionHandler) submitSection(c *fiber.Ctx) error {
	var payload dto.SubmitSectionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondError(c, h.logger, err)
	}

	result, err := h.service.SubmitSection(requestContext(c), service.SubmitSectionInput{
		SessionID:    c.Params("id"),
		UserID:       resolveUserID(c, payload.UserID),
		SectionID:    payload.SectionID,
		SectionIndex: *payload.SectionIndex,
		Answers:      payload.Answers,
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "section submitted", dto.SubmitSectionResponse{
		OK:                result.OK,
		NextSectionIndex:  result.NextSectionIndex,
		RemainingSections: result.RemainingSections,
	})
}

func (h *SessionHandler) complete(c *fiber.Ctx) error {
	var payload dto.CompleteSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	result, err := h.service.Complete(requestContext(c), c.Params("id"), resolveUserID(c, payload.UserID))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "session completed", dto.CompleteSessionResponse{
		OK:              result.OK,
		EvaluationJobID: result.EvaluationJobID,
	})
}

func (h *SessionHandler) get(c *fiber.Ctx) error {
	userID := resolveUserID(c, c.Query("userId"))
	if userID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "userId is required")
	}

	session, err := h.service.GetSession(requestContext(c), c.Params("id"), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "session retrieved", dto.NewSessionResponse(session))
}

func (h *SessionHandler) list(c *fiber.Ctx) error {
	sessions, err := h.service.ListSessions(requestContext(c), resolveUserID(c, c.Query("userId")))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	items := dto.NewSessionResponseSlice(sessions)
	return utils.OK(c, items, "sessions retrieved", fiber.Map{"count": len(items)})
}
