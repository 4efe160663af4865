package handler

import (
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assess-api/internal/dto"
	"github.com/noah-isme/gema-assess-api/internal/service"
	"github.com/noah-isme/gema-assess-api/internal/utils"
)

// AdminHandler exposes syllabus management and assessment generation.
type AdminHandler struct {
	syllabi    service.SyllabusService
	generation service.GenerationService
	logger     zerolog.Logger
}

// NewAdminHandler constructs an admin handler.
func NewAdminHandler(syllabi service.SyllabusService, generation service.GenerationService, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		syllabi:    syllabi,
		generation: generation,
		logger:     logger.With().Str("component", "admin_handler").Logger(),
	}
}

// RegisterSyllabus wires syllabus routes.
func (h *AdminHandler) RegisterSyllabus(router fiber.Router) {
	router.Get("", h.listSyllabi)
	router.Post("", h.createSyllabus)
	router.Post("/upload", h.uploadSyllabi)
}

// RegisterGeneration wires assessment generation routes.
func (h *AdminHandler) RegisterGeneration(router fiber.Router) {
	router.Post("/generate", h.generate)
}

func (h *AdminHandler) uploadSyllabi(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form with files is required")
	}

	headers := form.File["files"]
	files := make([]dto.SyllabusFile, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, fmt.Sprintf("cannot read %s", header.Filename))
		}
		content, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, fmt.Sprintf("cannot read %s", header.Filename))
		}
		files = append(files, dto.SyllabusFile{Name: header.Filename, Content: content})
	}

	items, err := h.syllabi.Upload(requestContext(c), files)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "syllabus uploaded", dto.NewSyllabusListResponse(items))
}

func (h *AdminHandler) createSyllabus(c *fiber.Ctx) error {
	var payload dto.SyllabusTextRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	item, err := h.syllabi.CreateFromText(requestContext(c), payload)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "syllabus created", dto.NewSyllabusResponse(item))
}

func (h *AdminHandler) listSyllabi(c *fiber.Ctx) error {
	items, err := h.syllabi.List(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "syllabi retrieved", dto.NewSyllabusListResponse(items))
}

func (h *AdminHandler) generate(c *fiber.Ctx) error {
	result, err := h.generation.TriggerGeneration(requestContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "generation triggered", dto.JobStatusResponse{
		JobID:   result.JobID,
		Status:  string(result.Status),
		Created: result.Created,
	})
}
