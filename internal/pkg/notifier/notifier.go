package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("sink already registered")

// Sink delivers one notification somewhere: the store, a websocket, an
// external webhook.
type Sink interface {
	Write(ctx context.Context, n *model.Notification) error
}

// Service fans notifications out to every registered sink. A failing sink
// is logged and skipped so the rest still get the event.
type Service struct {
	mu     sync.Mutex
	sinks  map[string]Sink
	now    func() time.Time
	logger *zap.Logger
}

func New() *Service {
	return &Service{
		sinks:  map[string]Sink{},
		now:    time.Now,
		logger: zap.L(),
	}
}

func (s *Service) Register(name string, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sinks[name]; ok {
		return errAlreadyRegistered
	}
	s.sinks[name] = sink
	return nil
}

// Notify stamps the notification with an id and a creation time, then
// delivers it to each sink in turn.
func (s *Service) Notify(ctx context.Context, n *model.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	sinks := make(map[string]Sink, len(s.sinks))
	for name, sink := range s.sinks {
		sinks[name] = sink
	}
	s.mu.Unlock()

	for name, sink := range sinks {
		if err := sink.Write(ctx, n); err != nil {
			s.logger.Error("failed to deliver notification",
				zap.Error(err),
				zap.String("sink", name),
				zap.String("event_type", n.Type.String()))
			continue
		}
		s.logger.Debug("notification delivered",
			zap.String("sink", name),
			zap.String("event_type", n.Type.String()))
	}
}
