package service

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-assess-api/internal/dto"
	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/repository"
)

const defaultMaxSyllabusFiles = 20

// TextExtractor turns a binary document into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, content []byte) (string, error)
}

// SourceArchive stores the original uploaded file and returns its location.
type SourceArchive interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// SyllabusServiceConfig limits syllabus uploads.
type SyllabusServiceConfig struct {
	MaxFiles int
}

// SyllabusService ingests syllabus material.
type SyllabusService interface {
	Upload(ctx context.Context, files []dto.SyllabusFile) ([]models.Syllabus, error)
	CreateFromText(ctx context.Context, payload dto.SyllabusTextRequest) (models.Syllabus, error)
	List(ctx context.Context) ([]models.Syllabus, error)
}

type syllabusService struct {
	repo      repository.SyllabusRepository
	extractor TextExtractor
	archive   SourceArchive
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	cfg       SyllabusServiceConfig
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewSyllabusService constructs the syllabus service. extractor and archive are optional:
// without an extractor PDFs are rejected, without an archive SourceFile keeps the file name.
func NewSyllabusService(repo repository.SyllabusRepository, extractor TextExtractor, archive SourceArchive, validate *validator.Validate, cfg SyllabusServiceConfig, logger zerolog.Logger) SyllabusService {
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxSyllabusFiles
	}
	if validate == nil {
		validate = validator.New()
	}

	return &syllabusService{
		repo:      repo,
		extractor: extractor,
		archive:   archive,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		cfg:       cfg,
		logger:    logger.With().Str("component", "syllabus_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-assess-api/internal/service/syllabus"),
	}
}

// Upload reads every file, derives its subject from the file name and stores the batch.
// Nothing is stored unless every file yields text.
func (s *syllabusService) Upload(ctx context.Context, files []dto.SyllabusFile) ([]models.Syllabus, error) {
	ctx, span := s.tracer.Start(ctx, "syllabus.upload", trace.WithAttributes(
		attribute.Int("syllabus.files", len(files)),
	))
	defer span.End()

	if len(files) == 0 {
		span.SetStatus(codes.Error, "validation failed")
		return nil, ErrNoSyllabusFiles
	}
	if len(files) > s.cfg.MaxFiles {
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("%w: %d files, limit %d", ErrTooManySyllabusFiles, len(files), s.cfg.MaxFiles)
	}

	items := make([]models.Syllabus, 0, len(files))
	for _, file := range files {
		text, err := s.readText(ctx, file)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read failed")
			return nil, fmt.Errorf("%s: %w", file.Name, err)
		}

		subject := s.cleanLine(strings.TrimSuffix(filepath.Base(file.Name), filepath.Ext(file.Name)))
		if subject == "" {
			return nil, fmt.Errorf("%w: %s has no usable subject name", ErrInvalidInput, file.Name)
		}

		items = append(items, models.Syllabus{
			SubjectName: subject,
			RawText:     text,
			SourceFile:  s.archiveSource(ctx, file),
		})
	}

	if err := s.repo.CreateBatch(ctx, items); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "stored")
	observability.Logger(ctx, s.logger).Info().Int("count", len(items)).Msg("syllabus files stored")
	return items, nil
}

func (s *syllabusService) CreateFromText(ctx context.Context, payload dto.SyllabusTextRequest) (models.Syllabus, error) {
	if err := s.validator.Struct(payload); err != nil {
		return models.Syllabus{}, err
	}

	subject := s.cleanLine(payload.SubjectName)
	text := normaliseText(payload.RawText)
	if subject == "" {
		return models.Syllabus{}, fmt.Errorf("%w: subject name is empty after sanitisation", ErrInvalidInput)
	}
	if text == "" {
		return models.Syllabus{}, ErrEmptySyllabus
	}

	source := strings.TrimSpace(payload.SourceFile)
	if source == "" {
		source = subject + ".txt"
	}

	items := []models.Syllabus{{SubjectName: subject, RawText: text, SourceFile: source}}
	if err := s.repo.CreateBatch(ctx, items); err != nil {
		return models.Syllabus{}, err
	}
	return items[0], nil
}

func (s *syllabusService) List(ctx context.Context) ([]models.Syllabus, error) {
	return s.repo.List(ctx)
}

func (s *syllabusService) readText(ctx context.Context, file dto.SyllabusFile) (string, error) {
	if len(file.Content) == 0 {
		return "", ErrEmptySyllabus
	}

	detected := mimetype.Detect(file.Content)
	var text string

	switch {
	case detected.Is("application/pdf"):
		if s.extractor == nil {
			return "", fmt.Errorf("%w: no pdf extractor configured", ErrUnsupportedSyllabusFormat)
		}
		extracted, err := s.extractor.Extract(ctx, file.Content)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedSyllabusFormat, err)
		}
		if !utf8.ValidString(extracted) {
			return "", fmt.Errorf("%w: pdf text is not valid utf-8", ErrUnsupportedSyllabusFormat)
		}
		text = extracted
	case detected.Is("text/html"):
		text = html.UnescapeString(s.sanitizer.Sanitize(string(file.Content)))
	case strings.HasPrefix(detected.String(), "text/") && utf8.Valid(file.Content):
		text = string(file.Content)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSyllabusFormat, detected.String())
	}

	text = normaliseText(text)
	if text == "" {
		return "", ErrEmptySyllabus
	}
	return text, nil
}

func (s *syllabusService) archiveSource(ctx context.Context, file dto.SyllabusFile) string {
	name := filepath.Base(file.Name)
	if s.archive == nil {
		return name
	}

	url, err := s.archive.Upload(ctx, name, bytes.NewReader(file.Content))
	if err != nil {
		observability.Logger(ctx, s.logger).Warn().Err(err).Str("file", name).Msg("failed to archive syllabus source")
		return name
	}
	return url
}

func (s *syllabusService) cleanLine(value string) string {
	cleaned := html.UnescapeString(s.sanitizer.Sanitize(value))
	return strings.Join(strings.Fields(cleaned), " ")
}

func normaliseText(value string) string {
	value = strings.ReplaceAll(value, "\x00", "")
	value = strings.ReplaceAll(value, "\r\n", "\n")
	return strings.TrimSpace(value)
}
