package hub

import (
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientWriter_DeliversInOrder(t *testing.T) {
	server, client := newTestConnPair(t)
	cw := newClientWriter(server)
	t.Cleanup(cw.stop)

	require.True(t, cw.enqueue([]byte("first")))
	require.True(t, cw.enqueue([]byte("second")))
	require.True(t, cw.enqueue([]byte("third")))

	for _, want := range []string{"first", "second", "third"} {
		client.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(msg))
	}
}

func TestClientWriter_EnqueueFailsWhenBufferFull(t *testing.T) {
	server, client := newTestConnPair(t)
	_ = client

	cw := newClientWriter(server)
	t.Cleanup(cw.stop)

	// The peer never reads, so TCP backpressure stalls the writer and the
	// buffer fills. Enqueue must then report failure instead of blocking.
	payload := make([]byte, 64*1024)
	deadline := time.Now().Add(3 * time.Second)
	failed := false
	for time.Now().Before(deadline) {
		if !cw.enqueue(payload) {
			failed = true
			break
		}
	}
	assert.True(t, failed, "enqueue should fail once the buffer is saturated")
}

func TestClientWriter_EnqueueAfterStop(t *testing.T) {
	server, _ := newTestConnPair(t)
	cw := newClientWriter(server)

	cw.stop()
	assert.False(t, cw.enqueue([]byte("late")))
}

func TestClientWriter_StopGracefulFlushesBuffer(t *testing.T) {
	server, client := newTestConnPair(t)
	cw := newClientWriter(server)

	require.True(t, cw.enqueue([]byte("a")))
	require.True(t, cw.enqueue([]byte("b")))

	done := make(chan struct{})
	go func() {
		cw.stopGraceful(ws.CloseGoingAway, "bye")
		close(done)
	}()

	// Buffered messages arrive before the close frame.
	for _, want := range []string{"a", "b"} {
		client.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(msg))
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := client.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "bye", closeErr.Text)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stopGraceful did not return")
	}
}

func TestClientWriter_StopIdempotentAndConcurrent(t *testing.T) {
	server, _ := newTestConnPair(t)
	cw := newClientWriter(server)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.stop()
		}()
	}
	wg.Wait()
	cw.stopGraceful(ws.CloseGoingAway, "already stopped")
}
