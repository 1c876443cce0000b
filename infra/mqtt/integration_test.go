//go:build integration

package mqtt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/seta/core/model"
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
`

func startMosquitto(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	require.NoError(t, os.WriteFile(path, []byte(mosquittoConf), 0644))
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "1883")
	require.NoError(t, err)
	return fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

func TestMosquittoRideAndConfirmation(t *testing.T) {
	broker := startMosquitto(t)
	cfg := Config{Broker: broker, ClientID: "it"}

	taxi, err := NewPahoClient(cfg, model.DefaultCity)
	require.NoError(t, err)
	defer taxi.Disconnect()
	gen, err := NewPahoClient(cfg, model.DefaultCity)
	require.NoError(t, err)
	defer gen.Disconnect()

	rides := make(chan model.RideRequest, 1)
	require.NoError(t, taxi.Subscribe(model.District1, func(r model.RideRequest) { rides <- r }))
	confirms := make(chan model.Confirmation, 1)
	require.NoError(t, gen.SubscribeConfirmations(func(c model.Confirmation) { confirms <- c }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ride := model.RideRequest{ID: 1, Start: model.Position{X: 1, Y: 1}, End: model.Position{X: 7, Y: 7}, Timestamp: time.Now()}
	require.NoError(t, gen.PublishRide(ctx, ride))

	select {
	case r := <-rides:
		require.Equal(t, ride.ID, r.ID)
	case <-ctx.Done():
		t.Fatal("ride not delivered")
	}
	require.NoError(t, taxi.PublishConfirmation(ctx, model.Confirmation{RideID: 1, TaxiID: 5}))
	select {
	case c := <-confirms:
		require.Equal(t, 5, c.TaxiID)
	case <-ctx.Done():
		t.Fatal("confirmation not delivered")
	}
}
