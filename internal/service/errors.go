package service

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assess-api/internal/repository"
)

var (
	// ErrInvalidInput wraps request payloads that fail basic validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAssessmentNotFound indicates the referenced assessment does not exist.
	ErrAssessmentNotFound = errors.New("assessment not found")
	// ErrAssessmentHasNoSections indicates an assessment cannot host a session.
	ErrAssessmentHasNoSections = errors.New("assessment has no sections")
	// ErrSessionNotFound indicates the session is missing or owned by another user.
	ErrSessionNotFound = errors.New("session not found")
	// ErrActiveSessionExists indicates the user already has an ACTIVE session.
	ErrActiveSessionExists = errors.New("user already has an ACTIVE session")
	// ErrInvalidTransition indicates start was called on a session that is not OPTED_IN.
	ErrInvalidTransition = errors.New("session is not in OPTED_IN state")
	// ErrSessionExpired indicates the session was expired for inactivity by this call or earlier.
	ErrSessionExpired = errors.New("session expired due to inactivity")
	// ErrSessionNotActive indicates the session is not ACTIVE.
	ErrSessionNotActive = errors.New("session is not ACTIVE")
	// ErrSectionOutOfOrder indicates a section was skipped or resubmitted.
	ErrSectionOutOfOrder = errors.New("section submitted out of order")
	// ErrSectionOutOfRange indicates every section has already been submitted.
	ErrSectionOutOfRange = errors.New("section index exceeds the assessment's sections")
	// ErrSectionsIncomplete indicates completion was requested before all sections were submitted.
	ErrSectionsIncomplete = errors.New("all sections must be submitted before completion")
	// ErrCompletionConflict indicates a concurrent request already completed the session.
	ErrCompletionConflict = errors.New("session completion conflict")
	// ErrConcurrentUpdate indicates a conditional update lost a race.
	ErrConcurrentUpdate = errors.New("concurrent update detected")
	// ErrJobNotFound indicates the job does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotRetryable indicates only FAILED jobs can be retried.
	ErrJobNotRetryable = errors.New("only FAILED jobs can be retried")
	// ErrJobStateConflict indicates a job transition found the job in an unexpected state.
	ErrJobStateConflict = errors.New("job is not in the expected state")
	// ErrNoSyllabus indicates generation was triggered before any syllabus was uploaded.
	ErrNoSyllabus = errors.New("no syllabus uploaded")
	// ErrNoSyllabusFiles indicates an upload without files.
	ErrNoSyllabusFiles = errors.New("at least one syllabus file is required")
	// ErrTooManySyllabusFiles indicates an upload over the configured file limit.
	ErrTooManySyllabusFiles = errors.New("too many syllabus files")
	// ErrUnsupportedSyllabusFormat indicates the upload is neither text nor an extractable document.
	ErrUnsupportedSyllabusFormat = errors.New("unsupported syllabus format")
	// ErrEmptySyllabus indicates no text could be read from a syllabus.
	ErrEmptySyllabus = errors.New("syllabus text is empty")
	// ErrUpstream wraps failures of the AI provider.
	ErrUpstream = errors.New("ai provider failure")
)

// Kind classifies errors for transport mapping.
type Kind int

const (
	KindInfrastructure Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindUpstream
)

// ErrorKind classifies err into the error taxonomy shared by handlers and workers.
func ErrorKind(err error) Kind {
	var validationErrs validator.ValidationErrors

	switch {
	case err == nil:
		return KindInfrastructure
	case errors.As(err, &validationErrs),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrAssessmentHasNoSections),
		errors.Is(err, ErrNoSyllabus),
		errors.Is(err, ErrNoSyllabusFiles),
		errors.Is(err, ErrTooManySyllabusFiles),
		errors.Is(err, ErrUnsupportedSyllabusFormat),
		errors.Is(err, ErrEmptySyllabus):
		return KindValidation
	case errors.Is(err, ErrAssessmentNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrJobNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, ErrActiveSessionExists),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionNotActive),
		errors.Is(err, ErrSectionOutOfOrder),
		errors.Is(err, ErrSectionOutOfRange),
		errors.Is(err, ErrSectionsIncomplete),
		errors.Is(err, ErrCompletionConflict),
		errors.Is(err, ErrConcurrentUpdate),
		errors.Is(err, ErrJobNotRetryable),
		errors.Is(err, ErrJobStateConflict),
		repository.IsSerializationFailure(err),
		repository.IsUniqueViolation(err):
		return KindConflict
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	default:
		return KindInfrastructure
	}
}

func mapSerialization(err error) error {
	if err != nil && repository.IsSerializationFailure(err) {
		return ErrConcurrentUpdate
	}
	return err
}
