package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/model"
)

var errMQTTOffline = errors.New("mqtt: not connected")

const publishTimeout = 5 * time.Second

type MQTTOptions struct {
	BrokerURL, ClientID, Username, Password, Topic string
	QoS                                            byte
}

// MQTTSink announces synced reports on a topic. Sealed content is never
// published; subscribers get id, kind, location and time.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

type notice struct {
	ID        string          `json:"id"`
	Kind      string          `json:"type"`
	Location  model.Location  `json:"location"`
	CreatedAt model.Timestamp `json:"timestamp"`
}

// NewMQTTSink starts connecting in the background; writes fail fast until
// the broker is reachable.
func NewMQTTSink(o MQTTOptions, logger *zap.Logger) *MQTTSink {
	opts := mqtt.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(o.ClientID).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.OnConnect = func(mqtt.Client) { logger.Info("[mirror] mqtt connected", zap.String("broker", o.BrokerURL)) }
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { logger.Warn("[mirror] mqtt connection lost", zap.Error(err)) }

	client := mqtt.NewClient(opts)
	client.Connect()
	return &MQTTSink{client: client, topic: o.Topic, qos: o.QoS}
}

func (s *MQTTSink) Name() string { return "mqtt:" + s.topic }

func (s *MQTTSink) Write(ctx context.Context, reports []model.Report) error {
	if !s.client.IsConnectionOpen() {
		return errMQTTOffline
	}
	for _, r := range reports {
		body, err := json.Marshal(toNotice(r))
		if err != nil {
			return err
		}
		tok := s.client.Publish(s.topic, s.qos, false, body)
		select {
		case <-tok.Done():
			if err := tok.Error(); err != nil {
				return fmt.Errorf("publish %s: %w", r.SubjectID, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(publishTimeout):
			return fmt.Errorf("publish %s: timed out", r.SubjectID)
		}
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

func toNotice(r model.Report) notice {
	return notice{ID: r.SubjectID, Kind: r.Kind, Location: r.Location, CreatedAt: r.CreatedAt}
}
