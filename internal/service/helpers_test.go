package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assess-api/internal/database"
	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/repository"
	"github.com/noah-isme/gema-assess-api/pkg/queue"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.ConnectSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedAssessment(t *testing.T, db *gorm.DB, sections int) models.Assessment {
	t.Helper()

	content := models.AssessmentContent{}
	if sections > 0 {
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
		content.Subjects = append(content.Subjects, subject)
	}

	assessment := models.Assessment{
		SyllabusHash: uuid.NewString(),
		Content:      datatypes.NewJSONType(content),
	}
	require.NoError(t, db.Create(&assessment).Error)
	return assessment
}

type enqueueCall struct {
	Queue   string
	Payload interface{}
	Options queue.Options
}

type enqueuerStub struct {
	mu    sync.Mutex
	calls []enqueueCall
	live  map[string]bool
	err   error
}

func newEnqueuerStub() *enqueuerStub {
	return &enqueuerStub{live: make(map[string]bool)}
}

func (e *enqueuerStub) Enqueue(ctx context.Context, queueName string, payload interface{}, opts queue.Options) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return "", false, e.err
	}
	e.calls = append(e.calls, enqueueCall{Queue: queueName, Payload: payload, Options: opts})
	if e.live[opts.IdempotencyKey] {
		return opts.IdempotencyKey, false, nil
	}
	e.live[opts.IdempotencyKey] = true
	return opts.IdempotencyKey, true, nil
}

func (e *enqueuerStub) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.live, key)
}

func (e *enqueuerStub) failWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *enqueuerStub) Calls() []enqueueCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]enqueueCall(nil), e.calls...)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	db       *gorm.DB
	enqueuer *enqueuerStub
	clock    *fixedClock
	jobs     JobService
	sessions SessionService
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()

	db := setupServiceTestDB(t)
	enqueuer := newEnqueuerStub()
	clock := newFixedClock()

	jobs := NewJobService(db, repository.NewAIJobRepository(db), enqueuer, nil, JobServiceConfig{}, testLogger())
	sessions := NewSessionService(
		repository.NewSessionRepository(db),
		repository.NewAssessmentRepository(db),
		repository.NewResourceLock(db),
		jobs,
		SessionServiceConfig{InactivityTimeout: 30 * time.Minute},
		testLogger(),
	)
	sessions.(*sessionService).now = clock.Now

	return serviceFixture{db: db, enqueuer: enqueuer, clock: clock, jobs: jobs, sessions: sessions}
}

var errQueueDown = errors.New("queue unavailable")
