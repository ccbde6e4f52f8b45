package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/model"
)

// publish is fire-and-forget at the application level: it waits for the
// broker ack but never retries, and every failure comes back wrapped in
// ErrTransport for callers deciding on rollback.
func (s *service) publish(topic string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	token := s.client.Publish(topic, commandQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		s.metrics.PublishFailures.WithLabelValues(commandKind(topic)).Inc()
		return fmt.Errorf("publish to %s timed out: %w", topic, model.ErrTransport)
	}
	if err := token.Error(); err != nil {
		s.metrics.PublishFailures.WithLabelValues(commandKind(topic)).Inc()
		return fmt.Errorf("publish to %s: %v: %w", topic, err, model.ErrTransport)
	}
	s.logger.Debug("published command", zap.String("topic", topic))
	return nil
}

// commandKind is the topic suffix, which names the command by construction.
func commandKind(topic string) string {
	return topic[strings.LastIndex(topic, "/")+1:]
}

func (s *service) PublishControl(thingName string, p model.ControlPayload) error {
	return s.publish(model.ControlTopic(thingName), p)
}

func (s *service) PublishSetting(thingName string, p model.SettingPayload) error {
	return s.publish(model.SettingTopic(thingName), p)
}

func (s *service) PublishSlaveRequest(thingName string, p model.SlaveRequestPayload) error {
	return s.publish(model.SlaveRequestTopic(thingName), p)
}

func (s *service) PublishReset(thingName string, p model.ResetPayload) error {
	return s.publish(model.ResetTopic(thingName), p)
}

func (s *service) PublishAlive(thingName string, p model.AlivePayload) error {
	return s.publish(model.AliveTopic(thingName), p)
}
