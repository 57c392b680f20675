package transport

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whamcloud/lustre-fleet/pkg/wire"
)

type fakeHandler struct {
	mu   sync.Mutex
	seen []wire.AgentToManager
}

func (f *fakeHandler) HandleFrame(ctx context.Context, fqdn string, msg wire.AgentToManager) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, msg)
	return nil
}

func (f *fakeHandler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func TestServerRoutesFramesAndSendsBack(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	handler := &fakeHandler{}
	server := NewServer(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	client := NewFramed(conn)

	sessionCreate, err := json.Marshal(wire.AgentToManager{
		Kind: "SessionCreate", Plugin: "device", SessionID: "s1", Fqdn: "oss1.example.com",
	})
	require.NoError(t, err)
	require.NoError(t, client.WriteFrame(sessionCreate))

	assert.Eventually(t, func() bool { return handler.count() == 1 }, time.Second, 5*time.Millisecond)

	err = server.SendToHost("oss1.example.com", []byte(`{"SessionCreateResponse":{"plugin":"device","session_id":"s1"}}`))
	require.NoError(t, err)

	payload, err := client.ReadFrame()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "SessionCreateResponse")

	err = server.SendToHost("unknown.example.com", []byte(`{}`))
	require.Error(t, err)
}
