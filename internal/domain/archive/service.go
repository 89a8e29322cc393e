package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nanobanana/nanobanana-api/internal/domain/generation"
	"github.com/nanobanana/nanobanana-api/internal/pkg/imaging"
	"github.com/nanobanana/nanobanana-api/internal/pkg/storage"
)

const (
	defaultBatch           = 10
	defaultMaxAttempts     = 5
	defaultDownloadTimeout = 30 * time.Second
)

var errDownload = errors.New("download failed")

// Jobs is the part of the job store the archiver needs
type Jobs interface {
	ListUnarchived(ctx context.Context, limit, maxAttempts int) ([]generation.Job, error)
	SetArchivedURLs(ctx context.Context, id, userID uuid.UUID, urls []string) error
	MarkArchiveFailed(ctx context.Context, id, userID uuid.UUID, reason string) error
}

// Config controls archiving
type Config struct {
	Batch int
	// MaxAttempts is how many failed passes a job gets before it is skipped.
	MaxAttempts     int
	DownloadTimeout time.Duration
}

// Service copies succeeded results into our own storage, since the
// generator's URLs expire.
type Service struct {
	cfg       Config
	jobs      Jobs
	store     storage.Storage
	processor *imaging.Processor
	http      *http.Client
}

func NewService(cfg Config, jobs Jobs, store storage.Storage, processor *imaging.Processor) *Service {
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if processor == nil {
		processor = imaging.NewProcessor(imaging.DefaultConfig())
	}
	return &Service{
		cfg:       cfg,
		jobs:      jobs,
		store:     store,
		processor: processor,
		http:      &http.Client{Timeout: cfg.DownloadTimeout},
	}
}

// Outcome counts what one archive pass did
type Outcome struct {
	Archived int
	Failed   int
}

// ArchivePending archives one batch of succeeded jobs. A job that fails
// is left unarchived with its attempt count bumped, so it sorts behind
// jobs that have not failed yet and is dropped after MaxAttempts.
func (s *Service) ArchivePending(ctx context.Context) (Outcome, error) {
	var out Outcome

	jobs, err := s.jobs.ListUnarchived(ctx, s.cfg.Batch, s.cfg.MaxAttempts)
	if err != nil {
		return out, err
	}

	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		job := &jobs[i]
		if err := s.archiveJob(ctx, job); err != nil {
			out.Failed++
			log.Warn().Err(err).
				Str("job_id", job.ID.String()).
				Str("user_id", job.UserID.String()).
				Int("attempt", job.ArchiveAttempts+1).
				Msg("Failed to archive generation results")
			if markErr := s.jobs.MarkArchiveFailed(ctx, job.ID, job.UserID, err.Error()); markErr != nil {
				log.Error().Err(markErr).Str("job_id", job.ID.String()).Msg("Failed to record archive failure")
			}
			continue
		}
		out.Archived++
	}

	if out.Archived > 0 {
		log.Info().Int("archived", out.Archived).Int("failed", out.Failed).Msg("Archived generation results")
	}
	return out, nil
}

func (s *Service) archiveJob(ctx context.Context, job *generation.Job) error {
	urls := make([]string, 0, len(job.ResultURLs))
	for n, src := range job.ResultURLs {
		data, err := s.download(ctx, src)
		if err != nil {
			return err
		}

		img, err := s.processor.Process(data)
		if err != nil {
			return fmt.Errorf("process result %d: %w", n, err)
		}

		originalKey, thumbKey := imaging.GeneratePaths(job.UserID.String(), job.ID.String(), n)
		if err := s.put(ctx, originalKey, img.Original, img.ContentType); err != nil {
			return err
		}
		if err := s.put(ctx, thumbKey, img.Thumbnail, img.ContentType); err != nil {
			return err
		}
		urls = append(urls, s.store.GetURL(originalKey))
	}

	return s.jobs.SetArchivedURLs(ctx, job.ID, job.UserID, urls)
}

func (s *Service) put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

func (s *Service) download(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDownload, err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %d", errDownload, src, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, imaging.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errDownload, err)
	}
	return data, nil
}
