package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.PacketConn, string) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc, pc.LocalAddr().String()
}

func readPacket(t *testing.T, pc net.PacketConn) string {
	t.Helper()
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestClient_Count(t *testing.T) {
	pc, addr := listen(t)

	client, err := NewClient(Config{Enabled: true, Address: addr, Prefix: "portal_identity"})
	require.NoError(t, err)
	defer client.Close()

	client.Count("signin.success", 1, map[string]string{"role": "officer"})

	assert.Equal(t, "portal_identity.signin.success:1|c|#role:officer", readPacket(t, pc))
}

func TestClient_Timing(t *testing.T) {
	pc, addr := listen(t)

	client, err := NewClient(Config{Enabled: true, Address: addr})
	require.NoError(t, err)
	defer client.Close()

	client.Timing("derived.fetch", 250*time.Millisecond, nil)

	assert.Equal(t, "derived.fetch:250|ms", readPacket(t, pc))
}

func TestClient_GlobalTagsMerged(t *testing.T) {
	pc, addr := listen(t)

	client, err := NewClient(Config{
		Enabled:    true,
		Address:    addr,
		GlobalTags: map[string]string{"agent": "test-1"},
	})
	require.NoError(t, err)
	defer client.Close()

	client.Count("signout", 1, map[string]string{"outcome": "ok"})

	assert.Equal(t, "signout:1|c|#agent:test-1,outcome:ok", readPacket(t, pc))
}

func TestClient_DisabledNoops(t *testing.T) {
	client, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:1"})
	require.NoError(t, err)

	client.Count("ignored", 1, nil)
	client.Timing("ignored", time.Second, nil)
	assert.NoError(t, client.Close())
}

func TestClient_NilSafe(t *testing.T) {
	var client *Client
	client.Count("ignored", 1, nil)
	client.Timing("ignored", time.Second, nil)
	assert.NoError(t, client.Close())
}
