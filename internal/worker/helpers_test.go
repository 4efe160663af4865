package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assess-api/internal/database"
	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/repository"
	"github.com/noah-isme/gema-assess-api/internal/service"
	"github.com/noah-isme/gema-assess-api/pkg/ai"
	"github.com/noah-isme/gema-assess-api/pkg/queue"
)

type countingGateway struct {
	mu            sync.Mutex
	mock          *ai.MockGateway
	generateCalls int
	evaluateCalls int
	failures      []error
}

func newCountingGateway(failures ...error) *countingGateway {
	return &countingGateway{mock: ai.NewMockGateway(), failures: failures}
}

func (g *countingGateway) Generate(ctx context.Context, syllabi []ai.SyllabusInput) (json.RawMessage, error) {
	g.mu.Lock()
	g.generateCalls++
	var failure error
	if len(g.failures) > 0 {
		failure, g.failures = g.failures[0], g.failures[1:]
	}
	g.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	return g.mock.Generate(ctx, syllabi)
}

func (g *countingGateway) Evaluate(ctx context.Context, input ai.EvaluationInput) (ai.EvaluationResult, error) {
	g.mu.Lock()
	g.evaluateCalls++
	g.mu.Unlock()
	return g.mock.Evaluate(ctx, input)
}

func (g *countingGateway) GenerateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generateCalls
}

func (g *countingGateway) EvaluateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluateCalls
}

type workerFixture struct {
	db          *gorm.DB
	redis       *miniredis.Miniredis
	queue       *queue.RedisQueue
	jobs        service.JobService
	jobRecords  repository.AIJobRepository
	syllabi     repository.SyllabusRepository
	assessments repository.AssessmentRepository
	sessions    repository.SessionRepository
	generation  service.GenerationService
	runner      *Runner
}

func newWorkerFixture(t *testing.T, maxAttempts int) workerFixture {
	t.Helper()

	db, err := database.ConnectSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zerolog.Nop()
	q := queue.NewRedisQueue(client, queue.Config{Prefix: "test", ConsumerID: "w1", Logger: logger})

	jobRecords := repository.NewAIJobRepository(db)
	jobs := service.NewJobService(db, jobRecords, q, nil, service.JobServiceConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
	}, logger)

	syllabi := repository.NewSyllabusRepository(db)
	assessments := repository.NewAssessmentRepository(db)

	return workerFixture{
		db:          db,
		redis:       server,
		queue:       q,
		jobs:        jobs,
		jobRecords:  jobRecords,
		syllabi:     syllabi,
		assessments: assessments,
		sessions:    repository.NewSessionRepository(db),
		generation:  service.NewGenerationService(syllabi, assessments, jobRecords, jobs, logger),
		runner:      NewRunner(q, jobs, logger),
	}
}

func (f workerFixture) seedSyllabus(t *testing.T, subject, text string) {
	t.Helper()
	require.NoError(t, f.syllabi.CreateBatch(context.Background(), []models.Syllabus{
		{SubjectName: subject, RawText: text, SourceFile: subject + ".txt"},
	}))
}

// deliver hands the next ready message of queueName to handler.
func (f workerFixture) deliver(t *testing.T, queueName string, handler queue.Handler) {
	t.Helper()
	processed, err := f.queue.ProcessNext(context.Background(), queueName, handler)
	require.NoError(t, err)
	require.True(t, processed, "expected a ready message on %s", queueName)
}

// awaitRetry waits until the backoff of a failed delivery elapses and it is ready again.
func (f workerFixture) awaitRetry(t *testing.T, queueName string) {
	t.Helper()
	require.Eventually(t, func() bool {
		promoted, err := f.queue.PromoteDue(context.Background(), queueName)
		return err == nil && promoted == 1
	}, time.Second, 5*time.Millisecond)
}

func (f workerFixture) seedAssessment(t *testing.T, sections int) models.Assessment {
	t.Helper()

	subject := models.AssessmentSubject{Name: "Math"}
	for i := 0; i < sections; i++ {
		subject.Sections = append(subject.Sections, models.AssessmentSection{
			Title:    fmt.Sprintf("Section %d", i+1),
			MaxScore: 10,
			Questions: []models.AssessmentQuestion{
				{ID: fmt.Sprintf("Q%d", i+1), Question: "Explain", MaxScore: 10, Difficulty: "easy"},
			},
		})
	}

	content := models.AssessmentContent{Subjects: []models.AssessmentSubject{subject}}
	assessment := models.Assessment{
		SyllabusHash: uuid.NewString(),
		Content:      datatypes.NewJSONType(content),
	}
	require.NoError(t, f.db.Create(&assessment).Error)
	return assessment
}
