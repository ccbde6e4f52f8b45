package history

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/config"
	"github.com/aquabase/tanklink/internal/pkg/model"
)

const (
	levelMeasurement  = "tank_level"
	switchMeasurement = "switch_status"
)

// Recorder writes state history to influx and serves it back aggregated.
// With no URL configured every call is a no-op so the rest of the system
// never has to check whether history is on.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	logger   *zap.Logger
}

func New(cfg *config.InfluxConfig) *Recorder {
	r := &Recorder{logger: zap.L()}
	if cfg == nil || cfg.URL == "" {
		return r
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	r.client = client
	r.writeAPI = client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	r.queryAPI = client.QueryAPI(cfg.Org)
	r.bucket = cfg.Bucket
	return r
}

func (r *Recorder) Enabled() bool {
	return r.writeAPI != nil
}

func (r *Recorder) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// RecordLevel stores one tank level point. Write failures are logged and
// swallowed; history must never hold up ingest.
func (r *Recorder) RecordLevel(ctx context.Context, deviceID string, level float64, at time.Time) {
	if r.writeAPI == nil {
		return
	}
	p := influxdb2.NewPoint(levelMeasurement,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"level": level},
		at)
	if err := r.writeAPI.WritePoint(ctx, p); err != nil {
		r.logger.Warn("level history write failed",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}
}

// RecordSwitch stores one switch state point, 1 for on.
func (r *Recorder) RecordSwitch(ctx context.Context, deviceID string, switchNo model.SwitchNo, status bool, at time.Time) {
	if r.writeAPI == nil {
		return
	}
	value := 0
	if status {
		value = 1
	}
	p := influxdb2.NewPoint(switchMeasurement,
		map[string]string{"device_id": deviceID, "switch_no": switchNo.String()},
		map[string]interface{}{"status": value},
		at)
	if err := r.writeAPI.WritePoint(ctx, p); err != nil {
		r.logger.Warn("switch history write failed",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}
}

func levelHistoryFlux(bucket, deviceID string, from, to time.Time, window time.Duration) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r["_measurement"] == %q)
  |> filter(fn: (r) => r["device_id"] == %q)
  |> filter(fn: (r) => r["_field"] == "level")
  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)
  |> yield(name: "mean")`,
		bucket,
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339),
		levelMeasurement,
		deviceID,
		window.String())
}

// LevelHistory returns mean-aggregated level points for one tank. Returns
// nothing when history is disabled.
func (r *Recorder) LevelHistory(ctx context.Context, deviceID string, from, to time.Time, window time.Duration) ([]model.TankReading, error) {
	if r.queryAPI == nil {
		return nil, nil
	}
	result, err := r.queryAPI.Query(ctx, levelHistoryFlux(r.bucket, deviceID, from, to, window))
	if err != nil {
		return nil, fmt.Errorf("querying level history: %w", err)
	}
	var readings []model.TankReading
	for result.Next() {
		value, ok := result.Record().Value().(float64)
		if !ok {
			continue
		}
		readings = append(readings, model.TankReading{
			DeviceID: deviceID,
			Level:    value,
			Time:     result.Record().Time(),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("reading level history: %w", result.Err())
	}
	return readings, nil
}
