package handler_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assess-api/internal/dto"
	"github.com/noah-isme/gema-assess-api/internal/handler"
	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/service"
)

func newAdminApp(syllabi service.SyllabusService, generation service.GenerationService) *fiber.App {
	app := fiber.New()
	admin := handler.NewAdminHandler(syllabi, generation, zerolog.Nop())
	admin.RegisterSyllabus(app.Group("/api/v1/admin/syllabus"))
	admin.RegisterGeneration(app.Group("/api/v1/assessments"))
	return app
}

func mathSyllabus() models.Syllabus {
	return models.Syllabus{
		ID:          "syl-1",
		SubjectName: "Math",
		SourceFile:  "math.txt",
		RawText:     "Algebra and geometry",
		CreatedAt:   time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestAdminHandlerUploadSyllabusFiles(t *testing.T) {
	syllabi := &syllabusServiceStub{items: []models.Syllabus{mathSyllabus()}}
	app := newAdminApp(syllabi, generationServiceStub{})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", "math.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Algebra and geometry"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/syllabus/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	require.Len(t, syllabi.uploaded, 1)
	require.Equal(t, "math.txt", syllabi.uploaded[0].Name)
	require.Equal(t, "Algebra and geometry", string(syllabi.uploaded[0].Content))

	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	var list dto.SyllabusListResponse
	require.NoError(t, json.Unmarshal(payload.Data, &list))
	require.Equal(t, 1, list.Count)
	require.Equal(t, "Math", list.Items[0].SubjectName)
	require.Equal(t, len("Algebra and geometry"), list.Items[0].TextLength)
}

func TestAdminHandlerUploadRequiresMultipart(t *testing.T) {
	app := newAdminApp(&syllabusServiceStub{}, generationServiceStub{})

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/admin/syllabus/upload", map[string]string{"file": "x"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.False(t, body.Success)
}

func TestAdminHandlerCreateSyllabusFromText(t *testing.T) {
	syllabi := &syllabusServiceStub{items: []models.Syllabus{mathSyllabus()}}
	app := newAdminApp(syllabi, generationServiceStub{})

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/admin/syllabus", map[string]string{
		"subjectName": "Math",
		"rawText":     "Algebra and geometry",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "Math", syllabi.created.SubjectName)

	var item dto.SyllabusResponse
	require.NoError(t, json.Unmarshal(body.Data, &item))
	require.Equal(t, "syl-1", item.ID)
}

func TestAdminHandlerMapsSyllabusErrors(t *testing.T) {
	syllabi := &syllabusServiceStub{err: service.ErrUnsupportedSyllabusFormat}
	app := newAdminApp(syllabi, generationServiceStub{})

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/admin/syllabus", map[string]string{"subjectName": "Math"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, service.ErrUnsupportedSyllabusFormat.Error(), body.Message)

	syllabi.err = errStoreDown
	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/admin/syllabus", nil)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "internal server error", body.Message)
}

func TestAdminHandlerTriggerGeneration(t *testing.T) {
	generation := generationServiceStub{result: service.JobStatusResult{
		JobID:   "job-1",
		Status:  models.JobStatusPending,
		Created: true,
	}}
	app := newAdminApp(&syllabusServiceStub{}, generation)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/assessments/generate", nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	var status dto.JobStatusResponse
	require.NoError(t, json.Unmarshal(body.Data, &status))
	require.Equal(t, dto.JobStatusResponse{JobID: "job-1", Status: "PENDING", Created: true}, status)
}

func TestAdminHandlerTriggerGenerationWithoutSyllabus(t *testing.T) {
	app := newAdminApp(&syllabusServiceStub{}, generationServiceStub{err: service.ErrNoSyllabus})

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/assessments/generate", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "no syllabus uploaded", body.Message)
}
