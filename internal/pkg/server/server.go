package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/metrics"
	"github.com/aquabase/tanklink/internal/pkg/model"
	"github.com/aquabase/tanklink/internal/pkg/topology"
)

const ownerHeader = "X-Owner-ID"

type topologyService interface {
	CreateSpace(ctx context.Context, ownerID, name string) (*model.Space, error)
	ListSpaces(ctx context.Context, ownerID string) ([]model.Space, error)
	GetDevice(ctx context.Context, ownerID, deviceID string) (*model.Device, error)
	ListDevices(ctx context.Context, ownerID, spaceID string) ([]model.Device, error)
	RegisterBase(ctx context.Context, input topology.RegisterBaseInput) (*model.Device, error)
	AttachTank(ctx context.Context, input topology.AttachTankInput) (*model.Device, error)
	DetachDevice(ctx context.Context, ownerID, deviceID string) error
	ControlSwitch(ctx context.Context, ownerID, deviceID string, switchNo model.SwitchNo, status bool) (*model.StateChange, error)
	UpdateTankSettings(ctx context.Context, ownerID, deviceID string, minimum, maximum float64) (bool, error)
	CheckAlive(ctx context.Context, ownerID, deviceID string) (bool, error)
}

type setupService interface {
	CreateSetup(ctx context.Context, ownerID string, setup *model.Setup) (*model.Setup, error)
	UpdateSetup(ctx context.Context, ownerID string, setup *model.Setup) (*model.Setup, error)
	GetSetup(ctx context.Context, ownerID, setupID string) (*model.Setup, error)
	ListSetups(ctx context.Context, ownerID, spaceID string) ([]model.Setup, error)
	SetSetupActive(ctx context.Context, ownerID, setupID string, active bool) error
	DeleteSetup(ctx context.Context, ownerID, setupID string) error
}

type notificationStore interface {
	GetSpace(ctx context.Context, spaceID string) (*model.Space, error)
	ListNotificationsBySpace(ctx context.Context, spaceID string, limit int) ([]model.Notification, error)
}

type historyReader interface {
	LevelHistory(ctx context.Context, deviceID string, from, to time.Time, window time.Duration) ([]model.TankReading, error)
}

type server struct {
	topo     topologyService
	setups   setupService
	store    notificationStore
	history  historyReader
	events   http.Handler
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

func New(topo topologyService, setups setupService, store notificationStore, history historyReader, events http.Handler, m *metrics.Metrics, gatherer prometheus.Gatherer) *server {
	return &server{
		topo:     topo,
		setups:   setups,
		store:    store,
		history:  history,
		events:   events,
		metrics:  m,
		gatherer: gatherer,
		logger:   zap.L(),
	}
}

// Router assembles the full HTTP surface. Callers own the listener.
func (s *server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.observe)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/spaces", s.createSpace).Methods(http.MethodPost)
	api.HandleFunc("/spaces", s.listSpaces).Methods(http.MethodGet)
	api.HandleFunc("/spaces/{spaceID}/devices", s.registerBase).Methods(http.MethodPost)
	api.HandleFunc("/spaces/{spaceID}/devices", s.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/spaces/{spaceID}/setups", s.createSetup).Methods(http.MethodPost)
	api.HandleFunc("/spaces/{spaceID}/setups", s.listSetups).Methods(http.MethodGet)
	api.HandleFunc("/spaces/{spaceID}/notifications", s.listNotifications).Methods(http.MethodGet)

	api.HandleFunc("/devices/{deviceID}", s.getDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{deviceID}", s.detachDevice).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{deviceID}/tanks", s.attachTank).Methods(http.MethodPost)
	api.HandleFunc("/devices/{deviceID}/control", s.controlSwitch).Methods(http.MethodPost)
	api.HandleFunc("/devices/{deviceID}/settings", s.updateSettings).Methods(http.MethodPut)
	api.HandleFunc("/devices/{deviceID}/alive", s.checkAlive).Methods(http.MethodGet)
	api.HandleFunc("/devices/{deviceID}/history", s.levelHistory).Methods(http.MethodGet)

	api.HandleFunc("/setups/{setupID}", s.getSetup).Methods(http.MethodGet)
	api.HandleFunc("/setups/{setupID}", s.updateSetup).Methods(http.MethodPut)
	api.HandleFunc("/setups/{setupID}", s.deleteSetup).Methods(http.MethodDelete)
	api.HandleFunc("/setups/{setupID}/active", s.setSetupActive).Methods(http.MethodPut)

	api.Handle("/events", s.events).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", ownerHeader},
	})
	return c.Handler(r)
}

// owner reads the caller identity an upstream gateway injects. There is no
// session handling here.
func owner(r *http.Request) (string, error) {
	id := r.Header.Get(ownerHeader)
	if id == "" {
		return "", fmt.Errorf("%s header is required: %w", ownerHeader, model.ErrValidation)
	}
	return id, nil
}

func (s *server) createSpace(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	req, err := unmarshalPayload[createSpaceRequest](r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	space, err := s.topo.CreateSpace(r.Context(), ownerID, req.Name)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, space)
}

func (s *server) listSpaces(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	spaces, err := s.topo.ListSpaces(r.Context(), ownerID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if spaces == nil {
		spaces = []model.Space{}
	}
	s.respondJSON(w, http.StatusOK, spaces)
}

func (s *server) registerBase(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	req, err := unmarshalPayload[registerBaseRequest](r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	dev, err := s.topo.RegisterBase(r.Context(), topology.RegisterBaseInput{
		SpaceID:   mux.Vars(r)["spaceID"],
		OwnerID:   ownerID,
		DeviceID:  req.DeviceID,
		Name:      req.Name,
		ThingName: req.ThingName,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, dev)
}

func (s *server) listDevices(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	devices, err := s.topo.ListDevices(r.Context(), ownerID, mux.Vars(r)["spaceID"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	if devices == nil {
		devices = []model.Device{}
	}
	s.respondJSON(w, http.StatusOK, devices)
}

func (s *server) getDevice(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	dev, err := s.topo.GetDevice(r.Context(), ownerID, mux.Vars(r)["deviceID"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, dev)
}

func (s *server) detachDevice(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.topo.DetachDevice(r.Context(), ownerID, mux.Vars(r)["deviceID"]); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) attachTank(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	req, err := unmarshalPayload[attachTankRequest](r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	tank, err := s.topo.AttachTank(r.Context(), topology.AttachTankInput{
		ParentDeviceID: mux.Vars(r)["deviceID"],
		OwnerID:        ownerID,
		DeviceID:       req.DeviceID,
		Name:           req.Name,
		Minimum:        req.Minimum,
		Maximum:        req.Maximum,
		Mode:           req.Mode,
		Range:          req.Range,
		Capacity:       req.Capacity,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, tank)
}

func (s *server) controlSwitch(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	req, err := unmarshalPayload[controlRequest](r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	change, err := s.topo.ControlSwitch(r.Context(), ownerID, mux.Vars(r)["deviceID"], req.SwitchNo, req.Status)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, model.SwitchState{
		DeviceID: change.DeviceID,
		SwitchNo: change.SwitchNo,
		Status:   change.Status,
	})
}

func (s *server) updateSettings(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	req, err := unmarshalPayload[settingsRequest](r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	confirmed, err := s.topo.UpdateTankSettings(r.Context(), ownerID, mux.Vars(r)["deviceID"], req.Minimum, req.Maximum)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settingsResponse{Confirmed: confirmed})
}

func (s *server) checkAlive(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	alive, err := s.topo.CheckAlive(r.Context(), ownerID, mux.Vars(r)["deviceID"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, aliveResponse{Alive: alive})
}

func (s *server) levelHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	dev, err := s.topo.GetDevice(r.Context(), ownerID, mux.Vars(r)["deviceID"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	if dev.Type != model.DeviceTypeTank {
		s.respondError(w, fmt.Errorf("device %s is not a tank: %w", dev.ID, model.ErrValidation))
		return
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	window := 5 * time.Minute
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			s.respondError(w, fmt.Errorf("from must be RFC3339: %w", model.ErrValidation))
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			s.respondError(w, fmt.Errorf("to must be RFC3339: %w", model.ErrValidation))
			return
		}
	}
	if v := r.URL.Query().Get("window"); v != "" {
		if window, err = time.ParseDuration(v); err != nil || window <= 0 {
			s.respondError(w, fmt.Errorf("window must be a positive duration: %w", model.ErrValidation))
			return
		}
	}

	readings, err := s.history.LevelHistory(r.Context(), dev.ID, from, to, window)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if readings == nil {
		readings = []model.TankReading{}
	}
	s.respondJSON(w, http.StatusOK, readings)
}

func (s *server) createSetup(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	setup, err := unmarshalPayload[model.Setup](r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	setup.SpaceID = mux.Vars(r)["spaceID"]
	created, err := s.setups.CreateSetup(r.Context(), ownerID, setup)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *server) listSetups(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	setups, err := s.setups.ListSetups(r.Context(), ownerID, mux.Vars(r)["spaceID"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	if setups == nil {
		setups = []model.Setup{}
	}
	s.respondJSON(w, http.StatusOK, setups)
}

func (s *server) getSetup(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	setup, err := s.setups.GetSetup(r.Context(), ownerID, mux.Vars(r)["setupID"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, setup)
}

func (s *server) updateSetup(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	setup, err := unmarshalPayload[model.Setup](r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	setup.ID = mux.Vars(r)["setupID"]
	updated, err := s.setups.UpdateSetup(r.Context(), ownerID, setup)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *server) setSetupActive(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	req, err := unmarshalPayload[activeRequest](r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.setups.SetSetupActive(r.Context(), ownerID, mux.Vars(r)["setupID"], req.Active); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deleteSetup(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.setups.DeleteSetup(r.Context(), ownerID, mux.Vars(r)["setupID"]); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listNotifications(w http.ResponseWriter, r *http.Request) {
	ownerID, err := owner(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	spaceID := mux.Vars(r)["spaceID"]
	space, err := s.store.GetSpace(r.Context(), spaceID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if space.OwnerID != ownerID {
		s.respondError(w, fmt.Errorf("space %s: %w", spaceID, model.ErrNotFound))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			s.respondError(w, fmt.Errorf("limit must be a positive integer: %w", model.ErrValidation))
			return
		}
		if limit > 500 {
			limit = 500
		}
	}
	notifications, err := s.store.ListNotificationsBySpace(r.Context(), spaceID, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}
	s.respondJSON(w, http.StatusOK, notifications)
}

func (s *server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
	}
}

// respondError maps the error taxonomy onto status codes. Timeout gets its
// own code because the command may still arrive after the deadline.
func (s *server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrHasDependents):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrDuplicateDevice), errors.Is(err, model.ErrDeviceClaimed), errors.Is(err, model.ErrSlotsFull):
		status = http.StatusConflict
	case errors.Is(err, model.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, model.ErrTransport), errors.Is(err, model.ErrNoAddress):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respondJSON(w, status, errorResponse{Error: err.Error()})
}

func unmarshalPayload[T any](r *http.Request) (*T, error) {
	var out T
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding request body: %v: %w", err, model.ErrValidation)
	}
	return &out, nil
}
