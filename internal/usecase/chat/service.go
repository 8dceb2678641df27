package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragdex/internal/domain"
)

// titlePreviewLen bounds auto-generated thread titles.
const titlePreviewLen = 50

// Service runs conversations: it routes messages through the ask pipeline and
// records both sides of the exchange in a thread.
type Service struct {
	asker   Asker
	threads Threads
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a chat service.
func New(asker Asker, threads Threads, logger *zap.Logger) *Service {
	return &Service{
		asker:   asker,
		threads: threads,
		logger:  logger,
		now:     time.Now,
	}
}

// Create opens a new thread. Threads that never received a message are
// pruned in the same registry step so abandoned ones do not pile up.
func (s *Service) Create(title string) domain.Thread {
	t, pruned := s.threads.PruneEmptyAndCreate(title)
	if pruned > 0 {
		s.logger.Debug("Pruned empty threads", zap.Int("count", pruned))
	}
	return t
}

// Get returns a thread with its messages.
func (s *Service) Get(id string) (domain.Thread, error) {
	return s.threads.Get(id)
}

// List returns all threads, most recently updated first.
func (s *Service) List() []domain.Thread {
	return s.threads.List()
}

// Delete removes a thread.
func (s *Service) Delete(id string) error {
	return s.threads.Delete(id)
}

// Chat sends a message in a thread and returns the answer stream. An empty
// threadID opens a new thread titled with a preview of the message; an
// unknown one is registered under the given ID. The streamed answer is
// mirrored into the thread as it is consumed, and the generation latency is
// recorded when the stream completes.
func (s *Service) Chat(ctx context.Context, threadID, message string) (string, domain.GenerationStream, error) {
	t := s.threads.EnsureAppend(threadID, TitlePreview(message), domain.Message{
		Role:    domain.RoleUser,
		Content: message,
	})
	threadID = t.ID

	stream, err := s.asker.Ask(ctx, message)
	if err != nil {
		return "", nil, fmt.Errorf("ask: %w", err)
	}

	if err := s.threads.Append(threadID, domain.Message{Role: domain.RoleAssistant}); err != nil {
		stream.Close()
		return "", nil, fmt.Errorf("record assistant message: %w", err)
	}

	return threadID, &recordingStream{
		inner:    stream,
		threads:  s.threads,
		threadID: threadID,
		started:  s.now(),
		now:      s.now,
		logger:   s.logger,
	}, nil
}

// recordingStream mirrors consumed fragments into the thread transcript.
type recordingStream struct {
	inner    domain.GenerationStream
	threads  Threads
	threadID string
	started  time.Time
	now      func() time.Time
	done     bool
	logger   *zap.Logger
}

func (r *recordingStream) Recv() (string, error) {
	frag, err := r.inner.Recv()
	if err == nil {
		if aerr := r.threads.AppendContent(r.threadID, frag); aerr != nil {
			r.logger.Warn("Failed to record fragment", zap.String("thread", r.threadID), zap.Error(aerr))
		}
		return frag, nil
	}

	if errors.Is(err, io.EOF) && !r.done {
		r.done = true
		elapsed := r.now().Sub(r.started).Seconds()
		if terr := r.threads.SetResponseTime(r.threadID, elapsed); terr != nil {
			r.logger.Warn("Failed to record response time", zap.String("thread", r.threadID), zap.Error(terr))
		}
	}
	return "", err
}

func (r *recordingStream) Close() error {
	return r.inner.Close()
}

// TitlePreview derives a thread title from the first message.
func TitlePreview(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > titlePreviewLen {
		return string(runes[:titlePreviewLen])
	}
	return title
}
