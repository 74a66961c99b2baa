package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn 把写入的帧收集到内存里，替代真实的 websocket 连接。
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeConn) lastFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func register(t *testing.T, h *Hub) (*Client, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	client := h.Register(conn)
	require.NotNil(t, client)
	go client.WritePump()
	return client, conn
}

func TestRegisterAssignsUniqueIDs(t *testing.T) {
	h := NewHub()
	a, _ := register(t, h)
	b, _ := register(t, h)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, h.Count())
}

func TestBroadcastReachesAllIncludingSender(t *testing.T) {
	h := NewHub()
	_, connA := register(t, h)
	_, connB := register(t, h)

	h.Broadcast(map[string]string{"type": "message", "text": "hi"})

	require.Eventually(t, func() bool {
		return connA.frameCount() == 1 && connB.frameCount() == 1
	}, time.Second, 5*time.Millisecond)

	var got map[string]string
	require.NoError(t, json.Unmarshal(connA.lastFrame(), &got))
	assert.Equal(t, "hi", got["text"])
}

func TestUnicastReachesOnlyTarget(t *testing.T) {
	h := NewHub()
	a, connA := register(t, h)
	_, connB := register(t, h)

	h.Unicast(a.ID, map[string]string{"type": "messageBlocked"})

	require.Eventually(t, func() bool {
		return connA.frameCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, connB.frameCount())
}

func TestUnicastUnknownIDIsSilent(t *testing.T) {
	h := NewHub()
	// 不应 panic，也不应有任何副作用
	h.Unicast("no-such-id", map[string]string{"type": "error"})
}

func TestUnregisterClosesConnection(t *testing.T) {
	h := NewHub()
	a, connA := register(t, h)

	h.Unregister(a.ID)

	assert.Equal(t, 0, h.Count())
	assert.Eventually(t, connA.isClosed, time.Second, 5*time.Millisecond)

	// 重复 unregister 无副作用
	h.Unregister(a.ID)
}

func TestBroadcastSkipsUnregistered(t *testing.T) {
	h := NewHub()
	a, connA := register(t, h)
	_, connB := register(t, h)

	h.Unregister(a.ID)
	h.Broadcast(map[string]string{"text": "after"})

	require.Eventually(t, func() bool {
		return connB.frameCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, connA.frameCount())
}

func TestSendQueuePreservesOrder(t *testing.T) {
	h := NewHub()
	a, connA := register(t, h)

	h.Unicast(a.ID, map[string]string{"seq": "1"})
	h.Unicast(a.ID, map[string]string{"seq": "2"})
	h.Unicast(a.ID, map[string]string{"seq": "3"})

	require.Eventually(t, func() bool {
		return connA.frameCount() == 3
	}, time.Second, 5*time.Millisecond)

	connA.mu.Lock()
	defer connA.mu.Unlock()
	for i, want := range []string{"1", "2", "3"} {
		var got map[string]string
		require.NoError(t, json.Unmarshal(connA.frames[i], &got))
		assert.Equal(t, want, got["seq"])
	}
}

func TestEnqueueAfterShutdownIsSilentlyDropped(t *testing.T) {
	h := NewHub()
	conn := &fakeConn{}
	client := h.Register(conn)
	require.NotNil(t, client)

	client.shutdown()
	// 关闭之后的投递直接丢弃，不 panic
	client.enqueue([]byte("hello"))
	// 重复关闭无副作用
	client.shutdown()

	assert.Zero(t, conn.frameCount())
	assert.True(t, conn.isClosed())
}

func TestBroadcastRacesWithDisconnect(t *testing.T) {
	h := NewHub()

	// 一批连接不断断开，同时多个协程持续广播。
	// 广播方拿到的快照里可能有刚关闭的连接，投递必须直接丢弃而不是崩溃。
	clients := make([]*Client, 0, 64)
	for i := 0; i < 64; i++ {
		c, _ := register(t, h)
		clients = append(clients, c)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h.Broadcast(map[string]string{"type": "message", "text": "hi"})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, c := range clients {
			h.Unregister(c.ID)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, h.Count())
}

func TestCloseAllRejectsNewConnections(t *testing.T) {
	h := NewHub()
	_, connA := register(t, h)

	h.CloseAll()

	assert.Equal(t, 0, h.Count())
	assert.Eventually(t, connA.isClosed, time.Second, 5*time.Millisecond)
	assert.Nil(t, h.Register(&fakeConn{}), "closed hub must not accept new connections")
}
