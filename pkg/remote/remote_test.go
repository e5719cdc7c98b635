package remote

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menu-remote/internal/connector"
	"menu-remote/internal/simulator"
)

func TestDialTCPReachesSimulator(t *testing.T) {
	d := simulator.NewDevice(simulator.Config{Name: "sim", AcceptUUIDs: []string{"someone"}, HeartbeatInterval: time.Second, Logger: zerolog.Nop()})
	require.NoError(t, d.Listen("127.0.0.1:0"))
	t.Cleanup(d.Close)
	host, p, err := net.SplitHostPort(d.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(p)

	id := Identity{Name: "embedder", UUID: "c0ffee00-0000-4000-8000-0000000000ee"}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, PairTCP(ctx, host, port, id, Config{}))
	assert.True(t, d.Accepts(id.UUID))

	c, err := DialTCP("sim", host, port, id, Config{})
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	c.Start()
	assert.Eventually(t, func() bool { return c.Status() == connector.ConnectionReady }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, d.Tree().Len(), c.Tree().Len())
}
