package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/pubsub"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	require.NoError(t, os.WriteFile(certFile, certPEM, 0644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0644))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0644))
	return
}

func stubClient(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, tlsCfg.Certificates)
	assert.NotNil(t, tlsCfg.RootCAs)

	_, err = Config{UseTLS: true}.LoadTLSConfig()
	assert.Error(t, err)
}

func TestNewClientOptions(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "taxi-1", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.True(t, strings.HasPrefix(opts.ClientID, "taxi-1-"))

	other, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "taxi-1"})
	require.NoError(t, err)
	assert.NotEqual(t, opts.ClientID, other.ClientID)

	opts, err = NewClientOptions(Config{Broker: "tcp://localhost:1883", AuthMethod: "certificate", Username: "u"})
	require.NoError(t, err)
	assert.Empty(t, opts.Username)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Broker: "tcp://b:1883", AuthMethod: "kerberos"}.Validate())
	assert.NoError(t, Config{Broker: "tcp://b:1883"}.Validate())
}

func TestRidesRoundTrip(t *testing.T) {
	mc := newMockClient()
	stubClient(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", QoS: map[string]byte{"rides": 2}}, model.DefaultCity)
	require.NoError(t, err)

	var got []model.RideRequest
	require.NoError(t, cli.Subscribe(model.District2, func(r model.RideRequest) { got = append(got, r) }))
	assert.Equal(t, byte(2), mc.subscribedQoS("seta/rides/district2"))

	ride := model.RideRequest{ID: 3, Start: model.Position{X: 8, Y: 1}, End: model.Position{X: 2, Y: 2}, Timestamp: time.UnixMilli(1000)}
	require.NoError(t, cli.PublishRide(context.Background(), ride))
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].ID)
	assert.Equal(t, ride.End, got[0].End)

	require.NoError(t, cli.Unsubscribe(model.District2))
	assert.ErrorIs(t, cli.Unsubscribe(model.District2), pubsub.ErrNotSubscribed)
	require.NoError(t, cli.PublishRide(context.Background(), ride))
	assert.Len(t, got, 1)
}

func TestConfirmations(t *testing.T) {
	mc := newMockClient()
	stubClient(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", TopicPrefix: "city"}, model.DefaultCity)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []model.Confirmation
	require.NoError(t, cli.SubscribeConfirmations(func(c model.Confirmation) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}))
	require.NoError(t, cli.PublishConfirmation(context.Background(), model.Confirmation{RideID: 1, TaxiID: 4}))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].TaxiID)
	assert.Contains(t, mc.topics(), "city/rides/confirmations")
}

func TestResubscribeOnReconnect(t *testing.T) {
	mc := newMockClient()
	stubClient(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"}, model.DefaultCity)
	require.NoError(t, err)
	require.NoError(t, cli.Subscribe(model.District1, func(model.RideRequest) {}))
	require.NoError(t, cli.SubscribeConfirmations(func(model.Confirmation) {}))
	before := mc.subscribeCount()

	mc.opts.OnConnect(mc)
	assert.Equal(t, before+2, mc.subscribeCount())
}

func TestLWTConfigured(t *testing.T) {
	mc := newMockClient()
	stubClient(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", LWTTopic: "lwt", LWTPayload: "bye", LWTQoS: 1}, model.DefaultCity)
	require.NoError(t, err)
	assert.True(t, mc.opts.WillEnabled)
	assert.Equal(t, "lwt", mc.opts.WillTopic)
	assert.Equal(t, "bye", string(mc.opts.WillPayload))
	cli.Disconnect()
	assert.Empty(t, mc.published)
}

func TestPublishRetries(t *testing.T) {
	mc := newMockClient()
	mc.publishErrs = []error{errors.New("net fail"), nil}
	stubClient(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1}, model.DefaultCity)
	require.NoError(t, err)
	require.NoError(t, cli.PublishConfirmation(context.Background(), model.Confirmation{RideID: 1, TaxiID: 1}))
	assert.Len(t, mc.published, 2)
}

func TestConnectError(t *testing.T) {
	mc := newMockClient()
	mc.connectErr = errors.New("refused")
	stubClient(t, mc)
	_, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"}, model.DefaultCity)
	assert.ErrorContains(t, err, "refused")
}

// mockClient implements pahoClient for tests and loops publications back to
// matching subscriptions.
type mockClient struct {
	mu         sync.Mutex
	opts       *paho.ClientOptions
	handlers   map[string]paho.MessageHandler
	subscribed []struct {
		topic string
		qos   byte
	}
	published   []string
	publishErrs []error
	connectErr  error
}

func newMockClient() *mockClient {
	return &mockClient{handlers: make(map[string]paho.MessageHandler)}
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.connectErr != nil {
		return &dummyToken{err: m.connectErr}
	}
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	m.published = append(m.published, topic)
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		if err != nil {
			m.mu.Unlock()
			return &dummyToken{err: err}
		}
	}
	h := m.handlers[topic]
	m.mu.Unlock()
	if h != nil {
		h(m, mockMessage{topic: topic, p: payload.([]byte)})
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = h
	m.subscribed = append(m.subscribed, struct {
		topic string
		qos   byte
	}{topic, qos})
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(topics ...string) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range topics {
		delete(m.handlers, t)
	}
	return &dummyToken{}
}

func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

func (m *mockClient) subscribedQoS(topic string) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscribed {
		if s.topic == topic {
			return s.qos
		}
	}
	return 255
}

func (m *mockClient) subscribeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribed)
}

func (m *mockClient) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.published...)
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
