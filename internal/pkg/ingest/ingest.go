package ingest

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/contxt"
	"github.com/aquabase/tanklink/internal/pkg/metrics"
	"github.com/aquabase/tanklink/internal/pkg/model"
	"github.com/aquabase/tanklink/internal/pkg/respstore"
)

type responseStore interface {
	Append(ctx context.Context, key respstore.Key, payload json.RawMessage, completedAt time.Time) (*respstore.Record, error)
}

type topologyService interface {
	ApplyUpdate(ctx context.Context, thingName string, rep model.ReportPayload) (*model.StateChange, error)
}

type rulesEngine interface {
	OnStateChange(ctx context.Context, ch model.StateChange) (int, error)
}

type livenessTracker interface {
	Touch(ctx context.Context, deviceID string)
}

type historyRecorder interface {
	RecordLevel(ctx context.Context, deviceID string, level float64, at time.Time)
	RecordSwitch(ctx context.Context, deviceID string, switchNo model.SwitchNo, status bool, at time.Time)
}

type subscriber interface {
	Subscribe(handler func(topic string, payload []byte)) error
}

const handleTimeout = 30 * time.Second

// Service folds raw broker messages into the rest of the system: the
// correlation store, the liveness tracker, the topology and, for state
// changes, the rule engine and history.
type Service struct {
	store    responseStore
	topology topologyService
	rules    rulesEngine
	liveness livenessTracker
	history  historyRecorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func New(store responseStore, topo topologyService, engine rulesEngine, tracker livenessTracker, recorder historyRecorder, m *metrics.Metrics) *Service {
	return &Service{
		store:    store,
		topology: topo,
		rules:    engine,
		liveness: tracker,
		history:  recorder,
		metrics:  m,
		logger:   zap.L(),
	}
}

// Start subscribes to the report topics. Each message is handled on its own
// goroutine so a slow store write never backs up the broker client.
func (s *Service) Start(sub subscriber) error {
	return sub.Subscribe(func(topic string, payload []byte) {
		go s.HandleReport(topic, payload)
	})
}

// HandleReport processes one raw broker message end to end.
func (s *Service) HandleReport(topic string, payload []byte) {
	thing, kind, ok := model.ParseReportTopic(topic)
	if !ok {
		s.logger.Debug("ignoring message on unknown topic", zap.String("topic", topic))
		return
	}
	ctx := contxt.NewContext(handleTimeout)

	var rep model.ReportPayload
	if err := json.Unmarshal(payload, &rep); err != nil {
		s.metrics.ReportDecodeFailures.WithLabelValues(kind.String()).Inc()
		s.logger.Warn("undecodable report",
			zap.String("topic", topic),
			zap.ByteString("payload", payload),
			zap.Error(err))
		return
	}
	s.metrics.ReportsReceived.WithLabelValues(kind.String()).Inc()
	s.logger.Debug("received report",
		zap.String("thing_name", thing),
		zap.String("kind", kind.String()))

	s.liveness.Touch(ctx, rep.DeviceID)

	switch kind {
	case model.ResponseSlave:
		s.append(ctx, respstore.Key{Subject: thing, Kind: kind}, payload)
	case model.ResponseAlive:
		if rep.DeviceID == "" {
			s.logger.Warn("alive reply without deviceid", zap.String("thing_name", thing))
			return
		}
		s.append(ctx, respstore.Key{Subject: rep.DeviceID, Kind: kind}, payload)
	case model.ResponseUpdate:
		s.handleUpdate(ctx, thing, kind, rep, payload)
	}
}

func (s *Service) handleUpdate(ctx context.Context, thing string, kind model.ResponseKind, rep model.ReportPayload, payload []byte) {
	change, err := s.topology.ApplyUpdate(ctx, thing, rep)
	if err != nil {
		s.logger.Warn("update not applied",
			zap.String("thing_name", thing),
			zap.Error(err))
		return
	}
	// Keyed by the resolved device (and sensor slot, when the report names
	// one) so a settings confirmation can wait on the tank's own stream.
	s.append(ctx, respstore.Key{Subject: change.DeviceID, Kind: kind, SensorNo: rep.SensorNo}, payload)
	if change.DeviceID != rep.DeviceID {
		s.liveness.Touch(ctx, change.DeviceID)
	}

	now := time.Now().UTC()
	switch change.Kind {
	case model.ChangeLevel:
		s.metrics.TankLevel.WithLabelValues(change.DeviceID).Set(change.Level)
		s.history.RecordLevel(ctx, change.DeviceID, change.Level, now)
	case model.ChangeSwitch:
		v := 0.0
		if change.Status {
			v = 1
		}
		s.metrics.SwitchState.WithLabelValues(change.DeviceID, change.SwitchNo.String()).Set(v)
		s.history.RecordSwitch(ctx, change.DeviceID, change.SwitchNo, change.Status, now)
	}

	triggered, err := s.rules.OnStateChange(ctx, *change)
	if err != nil {
		s.logger.Error("rule evaluation failed",
			zap.String("device_id", change.DeviceID),
			zap.Error(err))
		return
	}
	if triggered > 0 {
		s.metrics.SetupsTriggered.Add(float64(triggered))
	}
}

func (s *Service) append(ctx context.Context, key respstore.Key, payload []byte) {
	if _, err := s.store.Append(ctx, key, payload, time.Now().UTC()); err != nil {
		s.logger.Warn("correlation record not stored",
			zap.String("subject", key.Subject),
			zap.String("kind", key.Kind.String()),
			zap.Error(err))
	}
}
