package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	fail      bool
	writes    [][]byte
	closed    bool
	closeCode websocket.StatusCode
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func TestRegistrySendToUnknownUser(t *testing.T) {
	r := NewRegistry(0, nil)
	assert.False(t, r.SendToUser(context.Background(), "ghost", map[string]string{"a": "b"}))
}

func TestRegistrySendToUserReachesEveryConnection(t *testing.T) {
	r := NewRegistry(0, nil)
	a, b := &fakeConn{}, &fakeConn{}
	r.Add("u1", a)
	r.Add("u1", b)

	ok := r.SendToUser(context.Background(), "u1", Envelope{Type: TypeStatus, Data: StatusData{Message: "hi", UserID: "u1"}})
	require.True(t, ok)

	for _, c := range []*fakeConn{a, b} {
		require.Equal(t, 1, c.writeCount())
		var env map[string]any
		require.NoError(t, json.Unmarshal(c.writes[0], &env))
		assert.Equal(t, "status", env["type"])
	}
}

func TestRegistryPrunesFailedConnection(t *testing.T) {
	r := NewRegistry(0, nil)
	good, bad := &fakeConn{}, &fakeConn{fail: true}
	r.Add("u1", good)
	r.Add("u1", bad)

	assert.True(t, r.SendToUser(context.Background(), "u1", "first"))
	assert.Equal(t, 1, r.ConnectionCount("u1"))
	assert.True(t, bad.closed)
	assert.Equal(t, websocket.StatusGoingAway, bad.closeCode)

	// Later sends skip the pruned connection.
	bad.fail = false
	assert.True(t, r.SendToUser(context.Background(), "u1", "second"))
	assert.Equal(t, 2, good.writeCount())
	assert.Equal(t, 0, bad.writeCount())
}

func TestRegistryAllConnectionsFailing(t *testing.T) {
	r := NewRegistry(0, nil)
	r.Add("u1", &fakeConn{fail: true})

	assert.False(t, r.SendToUser(context.Background(), "u1", "x"))
	assert.NotContains(t, r.Users(), "u1")
}

func TestRegistryDisconnectLastConnectionDropsUser(t *testing.T) {
	r := NewRegistry(0, nil)
	a, b := &fakeConn{}, &fakeConn{}
	r.Add("u1", a)
	r.Add("u1", b)

	assert.True(t, r.Disconnect("u1", a))
	assert.Equal(t, []string{"u1"}, r.Users())

	assert.True(t, r.Disconnect("u1", b))
	assert.Empty(t, r.Users())
	assert.Equal(t, 0, r.Connected())

	assert.False(t, r.Disconnect("u1", b), "second disconnect is a no-op")
}

func TestRegistryBroadcastToAll(t *testing.T) {
	r := NewRegistry(0, nil)
	a, b, dead := &fakeConn{}, &fakeConn{}, &fakeConn{fail: true}
	r.Add("u1", a)
	r.Add("u2", b)
	r.Add("u3", dead)

	reached := r.BroadcastToAll(context.Background(), Envelope{Type: TypeStatus})

	assert.Equal(t, 2, reached)
	assert.Equal(t, 1, a.writeCount())
	assert.Equal(t, 1, b.writeCount())
	assert.ElementsMatch(t, []string{"u1", "u2"}, r.Users())
}

func TestRegistrySendToConn(t *testing.T) {
	r := NewRegistry(0, nil)
	a, b := &fakeConn{}, &fakeConn{}
	r.Add("u1", a)
	r.Add("u1", b)

	assert.True(t, r.SendToConn(context.Background(), "u1", a, "only a"))
	assert.Equal(t, 1, a.writeCount())
	assert.Equal(t, 0, b.writeCount())

	b.fail = true
	assert.False(t, r.SendToConn(context.Background(), "u1", b, "x"))
	assert.Equal(t, 1, r.ConnectionCount("u1"))
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry(0, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		c := &fakeConn{}
		go func() {
			defer wg.Done()
			r.Add("u1", c)
			r.SendToUser(context.Background(), "u1", "ping")
			r.Disconnect("u1", c)
		}()
		go func() {
			defer wg.Done()
			r.BroadcastToAll(context.Background(), "all")
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Connected())
	assert.Empty(t, r.Users())
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(0, nil)
	a, b := &fakeConn{}, &fakeConn{}
	r.Add("u1", a)
	r.Add("u2", b)

	r.Close()

	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 0, r.Connected())
}
