package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assess-api/internal/dto"
	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	}
	return req
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, envelope) {
	t.Helper()

	resp, err := app.Test(jsonRequest(t, method, path, body), -1)
	require.NoError(t, err)

	var payload envelope
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func withUser(userID, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	}
}

func startFiberServer(t *testing.T, app *fiber.App) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = app.Listener(listener)
		close(done)
	}()

	t.Cleanup(func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})

	return listener.Addr().String()
}

var errStoreDown = errors.New("store unavailable")

type sessionServiceStub struct {
	optIn    func(ctx context.Context, userID, assessmentID string) (models.Session, error)
	start    func(ctx context.Context, sessionID, userID string) (models.Session, error)
	submit   func(ctx context.Context, input service.SubmitSectionInput) (service.SubmitSectionResult, error)
	complete func(ctx context.Context, sessionID, userID string) (service.CompleteResult, error)
	get      func(ctx context.Context, sessionID, userID string) (models.Session, error)
	list     func(ctx context.Context, userID string) ([]models.Session, error)
}

func (s *sessionServiceStub) OptIn(ctx context.Context, userID, assessmentID string) (models.Session, error) {
	return s.optIn(ctx, userID, assessmentID)
}

func (s *sessionServiceStub) Start(ctx context.Context, sessionID, userID string) (models.Session, error) {
	return s.start(ctx, sessionID, userID)
}

func (s *sessionServiceStub) SubmitSection(ctx context.Context, input service.SubmitSectionInput) (service.SubmitSectionResult, error) {
	return s.submit(ctx, input)
}

func (s *sessionServiceStub) Complete(ctx context.Context, sessionID, userID string) (service.CompleteResult, error) {
	return s.complete(ctx, sessionID, userID)
}

func (s *sessionServiceStub) GetSession(ctx context.Context, sessionID, userID string) (models.Session, error) {
	return s.get(ctx, sessionID, userID)
}

func (s *sessionServiceStub) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	return s.list(ctx, userID)
}

type syllabusServiceStub struct {
	uploaded []dto.SyllabusFile
	created  dto.SyllabusTextRequest
	items    []models.Syllabus
	err      error
}

func (s *syllabusServiceStub) Upload(_ context.Context, files []dto.SyllabusFile) ([]models.Syllabus, error) {
	s.uploaded = files
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func (s *syllabusServiceStub) CreateFromText(_ context.Context, payload dto.SyllabusTextRequest) (models.Syllabus, error) {
	s.created = payload
	if s.err != nil {
		return models.Syllabus{}, s.err
	}
	return s.items[0], nil
}

func (s *syllabusServiceStub) List(context.Context) ([]models.Syllabus, error) {
	return s.items, s.err
}

type generationServiceStub struct {
	result service.JobStatusResult
	err    error
}

func (s generationServiceStub) TriggerGeneration(context.Context) (service.JobStatusResult, error) {
	return s.result, s.err
}

// jobServiceStub implements the read and retry side of service.JobService; the embedded
// interface panics if a handler reaches for anything else.
type jobServiceStub struct {
	service.JobService
	jobs     map[string]models.AIJob
	retryErr error
}

func (s *jobServiceStub) GetJob(_ context.Context, jobID string) (models.AIJob, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return models.AIJob{}, service.ErrJobNotFound
	}
	return job, nil
}

func (s *jobServiceStub) RetryJob(_ context.Context, jobID string) (models.AIJob, error) {
	if s.retryErr != nil {
		return models.AIJob{}, s.retryErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return models.AIJob{}, service.ErrJobNotFound
	}
	job.Status = models.JobStatusPending
	return job, nil
}
