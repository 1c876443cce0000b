// Package mqtt carries the district ride topics and ride confirmations over
// an MQTT broker using Eclipse Paho.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/monitoring"
	"github.com/kilianp07/seta/core/pubsub"
	"github.com/kilianp07/seta/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker string `json:"broker"`
	// ClientID is suffixed with a random id so several processes can share
	// the same configuration.
	ClientID    string          `json:"client_id"`
	Username    string          `json:"username"`
	Password    string          `json:"password"`
	TopicPrefix string          `json:"topic_prefix"`
	UseTLS      bool            `json:"use_tls"`
	ClientCert  string          `json:"client_cert"`
	ClientKey   string          `json:"client_key"`
	CABundle    string          `json:"ca_bundle"`
	AuthMethod  string          `json:"auth_method"`
	QoS         map[string]byte `json:"qos"`
	LWTTopic    string          `json:"lwt_topic"`
	LWTPayload  string          `json:"lwt_payload"`
	LWTQoS      byte            `json:"lwt_qos"`
	LWTRetain   bool            `json:"lwt_retain"`
	MaxRetries  int             `json:"max_retries"`
	BackoffMS   int             `json:"backoff_ms"`
	TLSConfig   *tls.Config     `json:"-"`
}

// SetDefaults fills the topic prefix, client id and retry policy.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "seta"
	}
	if c.ClientID == "" {
		c.ClientID = "seta"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	switch c.AuthMethod {
	case "", "none", "username_password", "certificate", "both":
	default:
		return fmt.Errorf("unknown mqtt auth method %q", c.AuthMethod)
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// PahoClient implements pubsub.RideSource and pubsub.RidePublisher.
type PahoClient struct {
	cli    pahoClient
	city   model.City
	prefix string
	qos    map[string]byte
	logger logger.Logger

	maxRetries int
	backoff    time.Duration

	mu       sync.Mutex
	rides    map[model.District]pubsub.RideHandler
	confirms []pubsub.ConfirmationHandler
}

var (
	_ pubsub.RideSource    = (*PahoClient)(nil)
	_ pubsub.RidePublisher = (*PahoClient)(nil)
)

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker. Subscriptions are restored on
// every reconnect.
func NewPahoClient(cfg Config, city model.City) (*PahoClient, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		city:       city,
		prefix:     cfg.TopicPrefix,
		qos:        cfg.QoS,
		logger:     log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		rides:      make(map[model.District]pubsub.RideHandler),
	}
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		pc.resubscribe()
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pc.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8])
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

func (p *PahoClient) qosFor(kind string) byte {
	if q, ok := p.qos[kind]; ok {
		return q
	}
	return 1
}

func (p *PahoClient) resubscribe() {
	p.mu.Lock()
	rides := make(map[model.District]pubsub.RideHandler, len(p.rides))
	for d, h := range p.rides {
		rides[d] = h
	}
	confirms := len(p.confirms) > 0
	p.mu.Unlock()
	for d, h := range rides {
		if err := p.subscribeRides(d, h); err != nil {
			p.logger.Errorf("resubscribe %s: %v", d, err)
		}
	}
	if confirms {
		if err := p.subscribeConfirmations(); err != nil {
			p.logger.Errorf("resubscribe confirmations: %v", err)
		}
	}
}

func await(t paho.Token) error {
	t.Wait()
	return t.Error()
}

// Subscribe delivers rides published on the topic of d to h.
func (p *PahoClient) Subscribe(d model.District, h pubsub.RideHandler) error {
	if err := p.subscribeRides(d, h); err != nil {
		return err
	}
	p.mu.Lock()
	p.rides[d] = h
	p.mu.Unlock()
	return nil
}

func (p *PahoClient) subscribeRides(d model.District, h pubsub.RideHandler) error {
	topic := pubsub.RideTopic(p.prefix, d)
	err := await(p.cli.Subscribe(topic, p.qosFor("rides"), func(_ paho.Client, msg paho.Message) {
		var ride model.RideRequest
		if err := json.Unmarshal(msg.Payload(), &ride); err != nil {
			p.logger.Errorf("failed to decode ride on %s: %v", msg.Topic(), err)
			return
		}
		h(ride)
	}))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	p.logger.Debugf("subscribed to %s", topic)
	return nil
}

// Unsubscribe stops the deliveries of d.
func (p *PahoClient) Unsubscribe(d model.District) error {
	p.mu.Lock()
	_, ok := p.rides[d]
	delete(p.rides, d)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", d, pubsub.ErrNotSubscribed)
	}
	topic := pubsub.RideTopic(p.prefix, d)
	if err := await(p.cli.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

// PublishConfirmation announces the taxi that took a ride.
func (p *PahoClient) PublishConfirmation(ctx context.Context, c model.Confirmation) error {
	tags := map[string]string{"module": "mqtt", "ride_id": fmt.Sprint(c.RideID), "taxi_id": fmt.Sprint(c.TaxiID)}
	return p.publish(ctx, pubsub.ConfirmationTopic(p.prefix), p.qosFor("confirmations"), c, tags)
}

// PublishRide publishes ride on the topic of the district of its start.
func (p *PahoClient) PublishRide(ctx context.Context, ride model.RideRequest) error {
	topic := pubsub.RideTopic(p.prefix, p.city.DistrictOf(ride.Start))
	tags := map[string]string{"module": "mqtt", "ride_id": fmt.Sprint(ride.ID)}
	return p.publish(ctx, topic, p.qosFor("rides"), ride, tags)
}

// SubscribeConfirmations delivers every ride confirmation to h.
func (p *PahoClient) SubscribeConfirmations(h pubsub.ConfirmationHandler) error {
	p.mu.Lock()
	p.confirms = append(p.confirms, h)
	first := len(p.confirms) == 1
	p.mu.Unlock()
	if !first {
		return nil
	}
	return p.subscribeConfirmations()
}

func (p *PahoClient) subscribeConfirmations() error {
	topic := pubsub.ConfirmationTopic(p.prefix)
	err := await(p.cli.Subscribe(topic, p.qosFor("confirmations"), p.onConfirmation))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (p *PahoClient) onConfirmation(_ paho.Client, msg paho.Message) {
	var c model.Confirmation
	if err := json.Unmarshal(msg.Payload(), &c); err != nil {
		p.logger.Errorf("failed to decode confirmation: %v", err)
		return
	}
	p.mu.Lock()
	hs := append([]pubsub.ConfirmationHandler(nil), p.confirms...)
	p.mu.Unlock()
	for _, h := range hs {
		h(c)
	}
}

// publish sends v as JSON, retrying with exponential backoff.
func (p *PahoClient) publish(ctx context.Context, topic string, qos byte, v any, tags map[string]string) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.backoff
	bo.MaxElapsedTime = 0
	attempt := 0
	op := func() error {
		attempt++
		err := await(p.cli.Publish(topic, qos, false, payload))
		if err != nil {
			p.logger.Errorf("publish attempt %d on %s failed: %v", attempt, topic, err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.maxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		err = fmt.Errorf("publish %s: %w", topic, err)
		monitoring.CaptureException(err, tags)
		return err
	}
	p.logger.Debugf("published on %s", topic)
	return nil
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
