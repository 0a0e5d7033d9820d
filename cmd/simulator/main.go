package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-deliveries/internal/dates"
	"github.com/ukydev/fleet-deliveries/internal/models"
	"github.com/ukydev/fleet-deliveries/internal/transport"
)

// Cities the synthetic deliveries are dropped around.
var cities = []models.GeoAddress{
	{Latitude: -23.5505, Longitude: -46.6333}, // São Paulo
	{Latitude: -22.9068, Longitude: -43.1729}, // Rio de Janeiro
	{Latitude: -19.9167, Longitude: -43.9345}, // Belo Horizonte
	{Latitude: -25.4284, Longitude: -49.2733}, // Curitiba
	{Latitude: -22.9099, Longitude: -47.0626}, // Campinas
}

func jitterLocation(base models.GeoAddress, meters float64, rng *rand.Rand) models.GeoAddress {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Latitude*math.Pi/180)
	dLat := (rng.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rng.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return models.GeoAddress{Latitude: base.Latitude + dLat, Longitude: base.Longitude + dLon}
}

// Publisher sends a change event to the service.
type Publisher interface {
	Publish(evt models.ChangeEvent) error
}

// HTTPPublisher posts events to the webhook.
type HTTPPublisher struct {
	URL    string
	Client *http.Client
}

// Publish implements Publisher.
func (p *HTTPPublisher) Publish(evt models.ChangeEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Post(p.URL, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event rejected with status: %d", resp.StatusCode)
	}
	return nil
}

// MQTTPublisher publishes events to the account's change topic.
type MQTTPublisher struct {
	Client  mqtt.Client
	Timeout time.Duration
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(evt models.ChangeEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	token := p.Client.Publish(transport.Topic(evt.AccountID), 1, false, data)
	if !token.WaitTimeout(p.Timeout) {
		return fmt.Errorf("publish timed out")
	}
	return token.Error()
}

// Dispatcher invents delivery writes for a fixed set of trucks and keeps
// the resulting delivery states so later writes have a consistent before
// state.
type Dispatcher struct {
	AccountID  string
	Trucks     []string
	Dates      *dates.Provider
	Horizon    int // days ahead future deliveries are scheduled
	rng        *rand.Rand
	run        string
	deliveries map[string]models.Delivery
	counter    int
}

// NewDispatcher creates a dispatcher with its own random source.
func NewDispatcher(accountID string, trucks []string, provider *dates.Provider, seed int64) *Dispatcher {
	rng := rand.New(rand.NewSource(seed))
	return &Dispatcher{
		AccountID:  accountID,
		Trucks:     trucks,
		Dates:      provider,
		Horizon:    7,
		rng:        rng,
		run:        fmt.Sprintf("%06x", rng.Intn(1<<24)),
		deliveries: make(map[string]models.Delivery),
	}
}

func (d *Dispatcher) randomTruck() string {
	return d.Trucks[d.rng.Intn(len(d.Trucks))]
}

func (d *Dispatcher) randomDate() string {
	offset := d.rng.Intn(d.Horizon + 1)
	date, _ := dates.Shift(d.Dates.Today(), offset)
	return date
}

func (d *Dispatcher) pick() (models.Delivery, bool) {
	if len(d.deliveries) == 0 {
		return models.Delivery{}, false
	}
	ids := make([]string, 0, len(d.deliveries))
	for id := range d.deliveries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return d.deliveries[ids[d.rng.Intn(len(ids))]], true
}

func (d *Dispatcher) event(before, after *models.Delivery) models.ChangeEvent {
	evt := models.ChangeEvent{ID: uuid.NewString(), AccountID: d.AccountID, ReceivedAt: time.Now()}
	if before != nil {
		evt.DeliveryID = before.ID
		b := *before
		evt.Before = &b
	}
	if after != nil {
		evt.DeliveryID = after.ID
		a := *after
		evt.After = &a
		d.deliveries[a.ID] = a
	} else {
		delete(d.deliveries, evt.DeliveryID)
	}
	return evt
}

// Create invents a new delivery.
func (d *Dispatcher) Create() models.ChangeEvent {
	d.counter++
	id := fmt.Sprintf("delivery-%s-%d", d.run, d.counter)
	delivery := models.Delivery{
		ID:                       id,
		AccountID:                d.AccountID,
		DeliveryDate:             d.randomDate(),
		TruckRef:                 d.randomTruck(),
		Number:                   d.counter,
		GeoAddress:               jitterLocation(cities[d.rng.Intn(len(cities))], 3000, d.rng),
		ExpectedDeliveryInterval: []string{"08:00-12:00", "12:00-18:00"}[d.rng.Intn(2)],
		Items:                    []models.Item{{Name: "box", Quantity: strconv.Itoa(1 + d.rng.Intn(20)), Unit: "un"}},
		CreatedAt:                time.Now(),
	}
	return d.event(nil, &delivery)
}

// Next invents the next write. The first write is always a create.
func (d *Dispatcher) Next() models.ChangeEvent {
	current, ok := d.pick()
	if !ok || current.IsComplete {
		return d.Create()
	}
	after := current
	switch roll := d.rng.Intn(10); {
	case roll < 4:
		return d.Create()
	case roll < 6:
		after.TruckRef = d.randomTruck()
	case roll < 8:
		after.DeliveryDate = d.randomDate()
	case roll < 9:
		after.IsComplete = true
	default:
		return d.event(&current, nil)
	}
	return d.event(&current, &after)
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func truckIDs(fleetSize int) []string {
	if v := os.Getenv("SIM_TRUCK_IDS"); v != "" {
		var ids []string
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			return ids
		}
	}
	ids := make([]string, fleetSize)
	for i := range ids {
		ids[i] = fmt.Sprintf("truck-%d", i+1)
	}
	return ids
}

func newPublisher(mode string) (Publisher, func(), error) {
	if mode == "http" {
		url := envString("API_BASE_URL", "http://localhost:8080/api") + "/deliveries/changes"
		return &HTTPPublisher{URL: url}, func() {}, nil
	}

	broker := envString("MQTT_BROKER", "tcp://localhost:1883")
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("fleet-simulator-" + uuid.NewString()[:8])
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, nil, fmt.Errorf("connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	return &MQTTPublisher{Client: client, Timeout: 5 * time.Second}, func() { client.Disconnect(250) }, nil
}

func main() {
	fleetSize := envInt("FLEET_SIZE", 5)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second
	accountID := envString("SIM_ACCOUNT_ID", "demo")
	mode := envString("SIM_MODE", "mqtt")

	provider, err := dates.New(envString("SIM_TIMEZONE", dates.DefaultTimezone), nil)
	if err != nil {
		log.WithError(err).Fatal("Invalid timezone")
	}
	publisher, closePublisher, err := newPublisher(mode)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up publisher")
	}
	defer closePublisher()

	trucks := truckIDs(fleetSize)
	dispatcher := NewDispatcher(accountID, trucks, provider, time.Now().UnixNano())

	log.WithFields(log.Fields{
		"account_id": accountID,
		"trucks":     len(trucks),
		"mode":       mode,
		"interval":   interval,
	}).Info("Starting dispatch simulation")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			log.Info("Dispatch simulation stopped")
			return
		case <-tick.C:
			evt := dispatcher.Next()
			entry := log.WithFields(log.Fields{
				"event_id":    evt.ID,
				"delivery_id": evt.DeliveryID,
				"kind":        evt.Kind(),
			})
			if err := publisher.Publish(evt); err != nil {
				entry.WithError(err).Error("Failed to publish delivery change")
				continue
			}
			entry.Info("Published delivery change")
		}
	}
}
