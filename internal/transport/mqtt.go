// Package transport delivers change events from an MQTT broker to the
// synchronizer.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-deliveries/internal/models"
)

// TopicPattern subscribes to the change topics of every account.
const TopicPattern = "fleet/accounts/+/deliveries/changes"

// Topic returns the change topic of one account.
func Topic(accountID string) string {
	return fmt.Sprintf("fleet/accounts/%s/deliveries/changes", accountID)
}

// accountFromTopic extracts the account from a topic built by Topic.
func accountFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 5 && parts[0] == "fleet" && parts[1] == "accounts" {
		return parts[2]
	}
	return ""
}

// EventProcessor applies a delivery change event.
type EventProcessor interface {
	Handle(ctx context.Context, evt models.ChangeEvent) models.Outcome
}

// Config configures the MQTT subscriber.
type Config struct {
	Broker         string
	ClientID       string
	Topic          string
	ConnectTimeout time.Duration
}

// Subscriber consumes change events at QoS 1. Messages are handled
// concurrently; the index writes tolerate any order. A message is acked
// only once it has been handled, so messages that arrive while the
// subscriber stops are redelivered to the persistent session.
type Subscriber struct {
	cfg       Config
	processor EventProcessor
	client    mqtt.Client

	mu     sync.RWMutex
	ctx    context.Context
	closed bool
	wg     sync.WaitGroup
}

// NewSubscriber creates a subscriber. It does not connect until Run.
func NewSubscriber(cfg Config, processor EventProcessor) *Subscriber {
	if cfg.Topic == "" {
		cfg.Topic = TopicPattern
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	s := &Subscriber{cfg: cfg, processor: processor, ctx: context.Background()}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetAutoAckDisabled(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithField("broker", cfg.Broker).WithError(err).Warn("MQTT connection lost")
		})
	s.client = mqtt.NewClient(opts)
	return s
}

// Run connects and consumes until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	s.mu.Lock()
	// In-flight messages finish their writes after ctx is done.
	s.ctx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return fmt.Errorf("connect to %s: timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", s.cfg.Broker, err)
	}

	<-ctx.Done()
	s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	s.close()
	s.client.Disconnect(250)
	return nil
}

// close stops new messages from being handled and waits for the ones in
// flight.
func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// onConnect subscribes again after every (re)connect.
func (s *Subscriber) onConnect(client mqtt.Client) {
	entry := log.WithFields(log.Fields{"broker": s.cfg.Broker, "topic": s.cfg.Topic})
	token := client.Subscribe(s.cfg.Topic, 1, s.onMessage)
	if token.WaitTimeout(s.cfg.ConnectTimeout) && token.Error() == nil {
		entry.Info("Subscribed to delivery changes")
		return
	}
	entry.WithError(token.Error()).Error("Failed to subscribe to delivery changes")
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.RUnlock()
	defer s.wg.Done()

	evt, err := decodeMessage(msg.Topic(), msg.Payload())
	if err != nil {
		log.WithFields(log.Fields{
			"topic":      msg.Topic(),
			"message_id": msg.MessageID(),
		}).WithError(err).Warn("Dropping malformed delivery change")
		msg.Ack()
		return
	}
	s.processor.Handle(ctx, evt)
	msg.Ack()
}

var errForeignAccount = errors.New("event account does not match topic")

// decodeMessage parses a change event and fills its account from the topic
// when the payload leaves it out.
func decodeMessage(topic string, payload []byte) (models.ChangeEvent, error) {
	var evt models.ChangeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return evt, fmt.Errorf("decode change event: %w", err)
	}
	if account := accountFromTopic(topic); account != "" {
		if evt.AccountID != "" && evt.AccountID != account {
			return evt, fmt.Errorf("%w: %s on %s", errForeignAccount, evt.AccountID, topic)
		}
		evt.AccountID = account
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now()
	}
	if err := evt.Normalize(); err != nil {
		return evt, err
	}
	return evt, nil
}
