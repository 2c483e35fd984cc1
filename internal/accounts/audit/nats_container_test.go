package audit_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
)

func TestNATSSinkContainer(t *testing.T) {
	if testing.Short() || os.Getenv("ACCOUNTS_CONTAINER_TESTS") == "" {
		t.Skip("set ACCOUNTS_CONTAINER_TESTS=1 to run against a real nats-server")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	nc, err := nats.Connect("nats://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	sub, err := nc.SubscribeSync("it.audit.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	d := audit.NewDispatcher(audit.NewNATSSink(nc, "it.audit", slog.Default()), 8)
	e := audit.New(audit.AccountLocked, time.Now())
	e.AccountID = "acct-1"
	d.Emit(ctx, e)
	d.Close()
	require.NoError(t, nc.Flush())

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "it.audit."+string(audit.AccountLocked), msg.Subject)
	require.Equal(t, e.ID, msg.Header.Get(nats.MsgIdHdr))

	var got audit.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, "acct-1", got.AccountID)
}
