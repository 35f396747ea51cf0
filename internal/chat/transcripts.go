package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/podflix/internal/common"
	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/storage"
	"github.com/suPer8Hu/podflix/internal/transcript"
)

// AudioUpload is one file posted to an audio session.
type AudioUpload struct {
	FileName       string
	ContentType    string
	Data           []byte
	IdempotencyKey string
}

// AttachResult holds the transcript of a synchronous attach, or the job of
// a queued one.
type AttachResult struct {
	Transcript *Transcript `json:"transcript,omitempty"`
	Job        *Job        `json:"job,omitempty"`
}

func (s *Service) mediaSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.EndedAt != nil {
		return nil, ErrSessionEnded
	}
	if sess.AppType != config.AppTypeAudio {
		return nil, ErrWrongAppType
	}
	return sess, nil
}

func objectKey(sessionID, fileName string) (string, error) {
	id, err := common.NewULID()
	if err != nil {
		return "", err
	}
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" {
		name = "audio"
	}
	return fmt.Sprintf("sessions/%s/%s-%s", sessionID, id, name), nil
}

// AttachAudio stores the upload and transcribes it. With async
// transcription the file must reach storage and a job is queued; otherwise
// the stored copy is best effort and the transcript is returned directly.
func (s *Service) AttachAudio(ctx context.Context, userID uint64, sessionID string, up AudioUpload) (*AttachResult, error) {
	sess, err := s.mediaSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	key, err := objectKey(sessionID, up.FileName)
	if err != nil {
		return nil, err
	}

	if s.opts.TranscribeAsync {
		job, err := s.enqueueTranscription(ctx, sess, key, up)
		if err != nil {
			return nil, err
		}
		return &AttachResult{Job: job}, nil
	}

	var mediaURL string
	if s.Storage != nil {
		mediaURL = storage.BestEffortUpload(ctx, s.Storage, key, up.Data, up.ContentType).URL
	}
	if mediaURL == "" {
		key = ""
	}

	tr, err := s.Whisper.TranscribeFile(ctx, up.FileName, bytes.NewReader(up.Data))
	if err != nil {
		return nil, err
	}
	row, err := s.saveTranscript(ctx, sess, tr, transcriptMeta{
		source:    transcript.SourceAudio,
		sourceRef: up.FileName,
		objectKey: key,
		mediaURL:  mediaURL,
	})
	if err != nil {
		return nil, err
	}
	return &AttachResult{Transcript: row}, nil
}

func (s *Service) enqueueTranscription(ctx context.Context, sess *Session, key string, up AudioUpload) (*Job, error) {
	if s.Publisher == nil || s.Storage == nil {
		return nil, ErrAsyncDisabled
	}

	var idem *string
	if up.IdempotencyKey != "" {
		k := up.IdempotencyKey
		idem = &k
		if existing, err := s.Repo.GetJobByUserAndIdempotencyKey(ctx, sess.UserID, k); err == nil {
			return existing, nil
		}
	}

	// the worker reads the object back, so a failed upload fails the request
	if _, err := s.Storage.Upload(ctx, key, up.Data, up.ContentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	jobID, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	job, created, err := s.Repo.CreateJobOrGetExisting(ctx, &Job{
		ID:             jobID,
		UserID:         sess.UserID,
		SessionID:      sess.SessionID,
		FileName:       up.FileName,
		ContentType:    up.ContentType,
		ObjectKey:      key,
		IdempotencyKey: idem,
		Status:         JobQueued,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return job, nil
	}

	if err := s.Publisher.PublishJob(ctx, job.ID); err != nil {
		_ = s.Repo.MarkJobFailed(ctx, job.ID, "publish failed: "+err.Error())
		return nil, fmt.Errorf("publish job: %w", err)
	}
	log.WithField("job_id", job.ID).WithField("session_id", sess.SessionID).Info("transcription queued")
	return job, nil
}

// ProcessJob runs one queued transcription. Jobs that are no longer queued
// are skipped, so a redelivered message is harmless.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	started, err := s.Repo.UpdateJobStatusRunning(ctx, jobID)
	if err != nil {
		return err
	}
	job, err := s.Repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !started {
		log.WithField("job_id", jobID).WithField("status", job.Status).Info("job not queued, skipping")
		return nil
	}

	tr, err := s.transcribeJob(ctx, job)
	if err != nil {
		if markErr := s.Repo.MarkJobFailed(ctx, jobID, err.Error()); markErr != nil {
			return errors.Join(err, markErr)
		}
		return err
	}
	return s.Repo.MarkJobSucceeded(ctx, jobID, tr.ID)
}

func (s *Service) transcribeJob(ctx context.Context, job *Job) (*Transcript, error) {
	sess, err := s.Repo.GetSessionBySessionID(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	obj, err := s.Storage.Read(ctx, job.ObjectKey)
	if err != nil {
		return nil, err
	}
	if !obj.Found {
		return nil, fmt.Errorf("object %q not found", job.ObjectKey)
	}

	tr, err := s.Whisper.TranscribeFile(ctx, job.FileName, bytes.NewReader(obj.Data))
	if err != nil {
		return nil, err
	}
	return s.saveTranscript(ctx, sess, tr, transcriptMeta{
		source:    transcript.SourceAudio,
		sourceRef: job.FileName,
		objectKey: job.ObjectKey,
		mediaURL:  s.Storage.ReadURL(job.ObjectKey),
	})
}

// AttachYouTube fetches the captions of a video in lang.
func (s *Service) AttachYouTube(ctx context.Context, userID uint64, sessionID, videoURL, lang string) (*Transcript, error) {
	sess, err := s.mediaSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if lang == "" {
		lang = "en"
	}
	tr, err := s.YouTube.Fetch(ctx, videoURL, lang)
	if err != nil {
		return nil, err
	}
	return s.saveTranscript(ctx, sess, tr, transcriptMeta{
		source:    transcript.SourceYouTube,
		sourceRef: videoURL,
		language:  lang,
		mediaURL:  videoURL,
	})
}

type transcriptMeta struct {
	source, sourceRef, language, objectKey, mediaURL string
}

func (s *Service) saveTranscript(ctx context.Context, sess *Session, tr transcript.Transcript, m transcriptMeta) (*Transcript, error) {
	if len(tr.Segments) == 0 {
		return nil, transcript.ErrEmptyTranscript
	}
	segs, err := encodeSegments(tr.Segments)
	if err != nil {
		return nil, err
	}
	row := &Transcript{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Source:    m.source,
		SourceRef: m.sourceRef,
		Language:  m.language,
		ObjectKey: m.objectKey,
		MediaURL:  m.mediaURL,
		Text:      tr.Text,
		Segments:  segs,
	}
	if err := s.Repo.AttachTranscript(ctx, row); err != nil {
		return nil, err
	}
	sess.TranscriptID = &row.ID

	// the live state may sit in another process; it is refreshed on the
	// next message in that case
	st, err := s.Sessions.Get(ctx, sess.SessionID)
	if err == nil {
		st.TranscriptID = &row.ID
		st.TranscriptContext = row.Text
		if err := s.Sessions.Put(ctx, st); err != nil {
			log.WithError(err).WithField("session_id", sess.SessionID).Warn("update live state failed")
		}
	}
	log.WithField("session_id", sess.SessionID).WithField("source", m.source).
		WithField("segments", len(tr.Segments)).Info("transcript attached")
	return row, nil
}

// GetTranscript returns the session's current transcript.
func (s *Service) GetTranscript(ctx context.Context, userID uint64, sessionID string) (*Transcript, error) {
	sess, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TranscriptID == nil {
		return nil, ErrNoTranscript
	}
	return s.Repo.GetTranscript(ctx, *sess.TranscriptID)
}

// awaitTranscript waits for a pending transcription job of the session for
// at most the upload wait timeout.
func (s *Service) awaitTranscript(ctx context.Context, sess *Session) (*Transcript, error) {
	deadline := time.NewTimer(s.opts.UploadWaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		fresh, err := s.Repo.GetSessionBySessionID(ctx, sess.SessionID)
		if err != nil {
			return nil, err
		}
		if fresh.TranscriptID != nil {
			sess.TranscriptID = fresh.TranscriptID
			return s.Repo.GetTranscript(ctx, *fresh.TranscriptID)
		}

		job, err := s.Repo.LatestJobForSession(ctx, sess.SessionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTranscriptRequired
		}
		if err != nil {
			return nil, err
		}
		if job.Status == JobFailed {
			msg := "unknown error"
			if job.Error != nil {
				msg = *job.Error
			}
			return nil, fmt.Errorf("%w: transcription failed: %s", ErrTranscriptRequired, msg)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: transcription still running after %s", ErrTranscriptRequired, s.opts.UploadWaitTimeout)
		case <-ticker.C:
		}
	}
}
