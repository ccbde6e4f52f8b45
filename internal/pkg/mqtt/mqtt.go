package mqtt

import (
	"errors"
	"fmt"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/metrics"
	"github.com/aquabase/tanklink/internal/pkg/model"
)

const (
	connectTimeout = time.Second * 5
	publishTimeout = time.Second * 10
	commandQoS     = 1
)

type service struct {
	client  paho_mqtt.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(client paho_mqtt.Client, m *metrics.Metrics) *service {
	return &service{
		client:  client,
		metrics: m,
		logger:  zap.L(),
	}
}

func (s *service) Connect() error {
	token := s.client.Connect()
	res := token.WaitTimeout(connectTimeout)
	if res {
		if err := token.Error(); err != nil {
			return err
		}
		return nil
	}
	if err := token.Error(); err != nil {
		return err
	}
	return errors.New("unable to connect in time")
}

func (s *service) Disconnect() {
	s.client.Disconnect(250)
}

// Subscribe registers one handler across every report filter. Paho invokes
// it on its own receive goroutines.
func (s *service) Subscribe(handler func(topic string, payload []byte)) error {
	for _, filter := range model.ReportSubscriptions() {
		token := s.client.Subscribe(filter, commandQoS, func(_ paho_mqtt.Client, msg paho_mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("subscribing to %s timed out", filter)
		}
		if err := token.Error(); err != nil {
			return err
		}
		s.logger.Debug("subscribed", zap.String("filter", filter))
	}
	return nil
}
