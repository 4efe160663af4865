package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assess-api/internal/models"
)

func TestSessionServiceFullLifecycle(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 2)

	session, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusOptedIn, session.Status)
	require.Equal(t, 2, session.TotalSections)
	require.Equal(t, 0, session.CurrentSectionIndex)

	started, err := fx.sessions.Start(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, started.Status)
	require.NotNil(t, started.StartedAt)
	require.NotNil(t, started.LastActivityAt)

	for i := 0; i < 2; i++ {
		fx.clock.Advance(5 * time.Minute)
		result, err := fx.sessions.SubmitSection(ctx, SubmitSectionInput{
			SessionID:    session.ID,
			UserID:       "u1",
			SectionID:    "section",
			SectionIndex: i,
			Answers:      json.RawMessage(`{"Q1":"answer"}`),
		})
		require.NoError(t, err)
		require.True(t, result.OK)
		require.Equal(t, i+1, result.NextSectionIndex)
		require.Equal(t, 1-i, result.RemainingSections)
	}

	completed, err := fx.sessions.Complete(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.True(t, completed.OK)
	require.NotEmpty(t, completed.EvaluationJobID)

	var job models.AIJob
	require.NoError(t, fx.db.First(&job, "id = ?", completed.EvaluationJobID).Error)
	require.Equal(t, models.JobTypeEvaluation, job.Type)
	require.Equal(t, models.JobStatusPending, job.Status)
	require.Equal(t, "evaluation:"+session.ID, job.DedupeKey)
	require.Equal(t, session.ID, job.PayloadString("sessionId"))

	calls := fx.enqueuer.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, EvaluationQueue, calls[0].Queue)
	require.Equal(t, job.ID, calls[0].Options.IdempotencyKey)
	require.Equal(t, 3, calls[0].Options.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, calls[0].Options.Backoff)

	stored, err := fx.sessions.GetSession(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	require.Len(t, stored.Submissions, 2)
	require.Equal(t, 0, stored.Submissions[0].SectionIndex)
	require.Equal(t, 1, stored.Submissions[1].SectionIndex)
}

func TestSessionServiceOptInValidation(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, err := fx.sessions.OptIn(ctx, "", "missing")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = fx.sessions.OptIn(ctx, "u1", "missing")
	require.ErrorIs(t, err, ErrAssessmentNotFound)

	empty := seedAssessment(t, fx.db, 0)
	_, err = fx.sessions.OptIn(ctx, "u1", empty.ID)
	require.ErrorIs(t, err, ErrAssessmentHasNoSections)
}

func TestSessionServiceConcurrentStartActivatesOne(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 1)

	first, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)
	second, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = fx.sessions.Start(ctx, id, "u1")
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrActiveSessionExists)
	}
	require.Equal(t, 1, succeeded)

	var active int64
	require.NoError(t, fx.db.Model(&models.Session{}).
		Where("user_id = ? AND status = ?", "u1", models.SessionStatusActive).
		Count(&active).Error)
	require.Equal(t, int64(1), active)
}

func TestSessionServiceStartExpiresStaleActiveSession(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 1)

	stale, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)
	next, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)

	_, err = fx.sessions.Start(ctx, stale.ID, "u1")
	require.NoError(t, err)

	_, err = fx.sessions.Start(ctx, next.ID, "u1")
	require.ErrorIs(t, err, ErrActiveSessionExists)

	fx.clock.Advance(31 * time.Minute)

	started, err := fx.sessions.Start(ctx, next.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, started.Status)

	var expired models.Session
	require.NoError(t, fx.db.First(&expired, "id = ?", stale.ID).Error)
	require.Equal(t, models.SessionStatusExpired, expired.Status)

	_, err = fx.sessions.Start(ctx, stale.ID, "u1")
	require.ErrorIs(t, err, ErrActiveSessionExists)
}

func TestSessionServiceStartRejectsForeignOrUsedSessions(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 1)

	session, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)

	_, err = fx.sessions.Start(ctx, session.ID, "u2")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = fx.sessions.Start(ctx, "does-not-exist", "u1")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = fx.sessions.Start(ctx, session.ID, "u1")
	require.NoError(t, err)

	fx.clock.Advance(time.Hour)

	_, err = fx.sessions.Start(ctx, session.ID, "u1")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSessionServiceSubmitSectionEnforcesOrder(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 3)

	session, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)

	submit := func(index int) error {
		_, err := fx.sessions.SubmitSection(ctx, SubmitSectionInput{
			SessionID:    session.ID,
			UserID:       "u1",
			SectionID:    "s",
			SectionIndex: index,
			Answers:      json.RawMessage(`[]`),
		})
		return err
	}

	require.ErrorIs(t, submit(0), ErrSessionNotActive)

	_, err = fx.sessions.Start(ctx, session.ID, "u1")
	require.NoError(t, err)

	require.ErrorIs(t, submit(1), ErrSectionOutOfOrder)
	require.NoError(t, submit(0))
	require.ErrorIs(t, submit(0), ErrSectionOutOfOrder)
	require.ErrorIs(t, submit(2), ErrSectionOutOfOrder)
	require.NoError(t, submit(1))

	stored, err := fx.sessions.GetSession(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, stored.CurrentSectionIndex)
	require.Len(t, stored.Submissions, 2)

	_, err = fx.sessions.SubmitSection(ctx, SubmitSectionInput{
		SessionID: session.ID, UserID: "u2", SectionID: "s", SectionIndex: 2, Answers: json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = fx.sessions.SubmitSection(ctx, SubmitSectionInput{
		SessionID: session.ID, UserID: "u1", SectionID: "s", SectionIndex: 2, Answers: json.RawMessage(`{broken`),
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSessionServiceSubmitSectionPastLastSection(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 1)

	session, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)
	_, err = fx.sessions.Start(ctx, session.ID, "u1")
	require.NoError(t, err)

	input := SubmitSectionInput{SessionID: session.ID, UserID: "u1", SectionID: "s", Answers: json.RawMessage(`{}`)}
	_, err = fx.sessions.SubmitSection(ctx, input)
	require.NoError(t, err)

	input.SectionIndex = 1
	_, err = fx.sessions.SubmitSection(ctx, input)
	require.ErrorIs(t, err, ErrSectionOutOfRange)
}

func TestSessionServiceInactivityExpiresOnSubmit(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 2)

	session, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)
	_, err = fx.sessions.Start(ctx, session.ID, "u1")
	require.NoError(t, err)

	fx.clock.Advance(30*time.Minute + time.Second)

	_, err = fx.sessions.SubmitSection(ctx, SubmitSectionInput{
		SessionID: session.ID, UserID: "u1", SectionID: "s", SectionIndex: 0, Answers: json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, KindConflict, ErrorKind(err))

	var stored models.Session
	require.NoError(t, fx.db.First(&stored, "id = ?", session.ID).Error)
	require.Equal(t, models.SessionStatusExpired, stored.Status)

	var submissions int64
	require.NoError(t, fx.db.Model(&models.SectionSubmission{}).Where("session_id = ?", session.ID).Count(&submissions).Error)
	require.Zero(t, submissions)

	_, err = fx.sessions.Complete(ctx, session.ID, "u1")
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionServiceActivityWithinThresholdKeepsSessionAlive(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 3)

	session, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)
	_, err = fx.sessions.Start(ctx, session.ID, "u1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		fx.clock.Advance(25 * time.Minute)
		_, err := fx.sessions.SubmitSection(ctx, SubmitSectionInput{
			SessionID: session.ID, UserID: "u1", SectionID: "s", SectionIndex: i, Answers: json.RawMessage(`{}`),
		})
		require.NoError(t, err)
	}

	fx.clock.Advance(25 * time.Minute)
	result, err := fx.sessions.Complete(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.True(t, result.OK)
}

func TestSessionServiceCompleteRules(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 1)

	session, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)

	_, err = fx.sessions.Complete(ctx, session.ID, "u1")
	require.ErrorIs(t, err, ErrSessionNotActive)

	_, err = fx.sessions.Start(ctx, session.ID, "u1")
	require.NoError(t, err)

	_, err = fx.sessions.Complete(ctx, session.ID, "u1")
	require.ErrorIs(t, err, ErrSectionsIncomplete)

	_, err = fx.sessions.SubmitSection(ctx, SubmitSectionInput{
		SessionID: session.ID, UserID: "u1", SectionID: "s", SectionIndex: 0, Answers: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	_, err = fx.sessions.Complete(ctx, session.ID, "u2")
	require.ErrorIs(t, err, ErrSessionNotFound)

	first, err := fx.sessions.Complete(ctx, session.ID, "u1")
	require.NoError(t, err)

	_, err = fx.sessions.Complete(ctx, session.ID, "u1")
	require.ErrorIs(t, err, ErrSessionNotActive)

	var jobs int64
	require.NoError(t, fx.db.Model(&models.AIJob{}).Where("dedupe_key = ?", "evaluation:"+session.ID).Count(&jobs).Error)
	require.Equal(t, int64(1), jobs)
	require.Len(t, fx.enqueuer.Calls(), 1)
	require.NotEmpty(t, first.EvaluationJobID)
}

func TestSessionServiceConcurrentCompleteCreatesOneJob(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 1)

	session, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)
	_, err = fx.sessions.Start(ctx, session.ID, "u1")
	require.NoError(t, err)
	_, err = fx.sessions.SubmitSection(ctx, SubmitSectionInput{
		SessionID: session.ID, UserID: "u1", SectionID: "s", SectionIndex: 0, Answers: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]CompleteResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fx.sessions.Complete(ctx, session.ID, "u1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := range errs {
		if errs[i] == nil {
			succeeded++
			require.NotEmpty(t, results[i].EvaluationJobID)
			continue
		}
		require.Equal(t, KindConflict, ErrorKind(errs[i]))
	}
	require.Equal(t, 1, succeeded)

	var jobs int64
	require.NoError(t, fx.db.Model(&models.AIJob{}).Where("type = ?", models.JobTypeEvaluation).Count(&jobs).Error)
	require.Equal(t, int64(1), jobs)
}

func TestSessionServiceCompleteToleratesEnqueueFailure(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 1)

	session, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)
	_, err = fx.sessions.Start(ctx, session.ID, "u1")
	require.NoError(t, err)
	_, err = fx.sessions.SubmitSection(ctx, SubmitSectionInput{
		SessionID: session.ID, UserID: "u1", SectionID: "s", SectionIndex: 0, Answers: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	fx.enqueuer.failWith(errQueueDown)

	result, err := fx.sessions.Complete(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, result.EvaluationJobID)

	job, err := fx.jobs.GetJob(ctx, result.EvaluationJobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPending, job.Status)
}

func TestSessionServiceGetAndListReportExpiry(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	assessment := seedAssessment(t, fx.db, 1)

	session, err := fx.sessions.OptIn(ctx, "u1", assessment.ID)
	require.NoError(t, err)
	_, err = fx.sessions.Start(ctx, session.ID, "u1")
	require.NoError(t, err)

	_, err = fx.sessions.GetSession(ctx, session.ID, "u2")
	require.ErrorIs(t, err, ErrSessionNotFound)

	fx.clock.Advance(45 * time.Minute)

	viewed, err := fx.sessions.GetSession(ctx, session.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusExpired, viewed.Status)

	listed, err := fx.sessions.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, models.SessionStatusExpired, listed[0].Status)

	_, err = fx.sessions.ListSessions(ctx, " ")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestReconcileExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	boundary := now.Add(-30 * time.Minute)
	stale := now.Add(-31 * time.Minute)

	cases := []struct {
		name    string
		session models.Session
		expired bool
	}{
		{name: "recent activity", session: models.Session{Status: models.SessionStatusActive, LastActivityAt: &recent}},
		{name: "exactly at threshold", session: models.Session{Status: models.SessionStatusActive, LastActivityAt: &boundary}},
		{name: "past threshold", session: models.Session{Status: models.SessionStatusActive, LastActivityAt: &stale}, expired: true},
		{name: "opted in", session: models.Session{Status: models.SessionStatusOptedIn, LastActivityAt: &stale}},
		{name: "completed", session: models.Session{Status: models.SessionStatusCompleted, LastActivityAt: &stale}},
		{name: "no activity yet", session: models.Session{Status: models.SessionStatusActive}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reconciled, expired := ReconcileExpiry(tc.session, now, 30*time.Minute)
			require.Equal(t, tc.expired, expired)
			if tc.expired {
				require.Equal(t, models.SessionStatusExpired, reconciled.Status)
			} else {
				require.Equal(t, tc.session.Status, reconciled.Status)
			}
		})
	}
}
