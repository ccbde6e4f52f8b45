package respstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

// Key addresses one correlation stream: a subject (thing name for slave
// responses, device id otherwise), the report kind, and optionally the slave
// sensor the record concerns.
type Key struct {
	Subject  string
	Kind     model.ResponseKind
	SensorNo model.SlaveName
}

func (k Key) redisKey() string {
	s := "resp:" + k.Kind.String() + ":" + k.Subject
	if k.SensorNo != "" {
		s += ":" + k.SensorNo.String()
	}
	return s
}

// Record is one inbound report held for correlation.
type Record struct {
	ID          string             `json:"id"`
	Subject     string             `json:"subject"`
	Kind        model.ResponseKind `json:"kind"`
	SensorNo    model.SlaveName    `json:"sensor_no,omitempty"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
	InsertedAt  time.Time          `json:"inserted_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Store keeps correlation records in redis sorted sets scored by insertion
// time. Keys expire after ttl so abandoned streams clean themselves up.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Append records an inbound report. Old members beyond the ttl horizon are
// trimmed in the same round trip.
func (s *Store) Append(ctx context.Context, key Key, payload json.RawMessage, completedAt time.Time) (*Record, error) {
	now := s.now()
	rec := &Record{
		ID:          uuid.NewString(),
		Subject:     key.Subject,
		Kind:        key.Kind,
		SensorNo:    key.SensorNo,
		Payload:     payload,
		InsertedAt:  now,
		CompletedAt: completedAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshalling record: %w", err)
	}

	horizon := strconv.FormatInt(now.Add(-s.ttl).UnixMilli(), 10)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key.redisKey(), &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: string(data),
	})
	pipe.ZRemRangeByScore(ctx, key.redisKey(), "-inf", horizon)
	pipe.Expire(ctx, key.redisKey(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// Latest returns the newest record inserted within the freshness window, or
// nil when nothing fresh exists.
func (s *Store) Latest(ctx context.Context, key Key, freshness time.Duration) (*Record, error) {
	cutoff := s.now().Add(-freshness).UnixMilli()
	members, err := s.client.ZRevRangeByScore(ctx, key.redisKey(), &redis.ZRangeBy{
		Min:   strconv.FormatInt(cutoff, 10),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	rec := &Record{}
	if err := json.Unmarshal([]byte(members[0]), rec); err != nil {
		return nil, fmt.Errorf("unmarshalling record: %w", err)
	}
	return rec, nil
}
