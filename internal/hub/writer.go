package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout      = 5 * time.Second
	messageBufferSize = 16
)

// clientWriter serializes all text writes to one connection through a single
// goroutine, so message order per client is preserved and a slow client only
// ever blocks its own writer. enqueue, stop and stopGraceful are called from
// the hub goroutine only; ping may be called concurrently (WriteControl is
// safe alongside WriteMessage).
type clientWriter struct {
	conn     *websocket.Conn
	sendCh   chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, messageBufferSize),
		done:   make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			_ = cw.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

// enqueue hands a message to the writer without blocking. A full buffer or a
// stopped writer counts as a send failure.
func (cw *clientWriter) enqueue(msg []byte) bool {
	select {
	case <-cw.done:
		return false
	default:
	}

	select {
	case cw.sendCh <- msg:
		return true
	default:
		return false
	}
}

// ping sends a liveness probe. Safe to call concurrently with the writer.
func (cw *clientWriter) ping() error {
	return cw.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// stop terminates the writer immediately, dropping any buffered messages.
func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.done)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}

// abort force-closes the connection without waiting for buffered messages.
// Any in-flight or future write fails immediately, which unblocks a
// stopGraceful stuck flushing to an unresponsive peer.
func (cw *clientWriter) abort() {
	_ = cw.conn.Close()
}

// stopGraceful flushes buffered messages, then sends a close frame with the
// given status code and reason before closing the connection.
func (cw *clientWriter) stopGraceful(closeCode int, reason string) {
	cw.stopOnce.Do(func() {
		// Closing sendCh makes the writer drain remaining messages and exit.
		close(cw.sendCh)
		cw.wg.Wait()
		close(cw.done)

		closeMsg := websocket.FormatCloseMessage(closeCode, reason)
		_ = cw.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = cw.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.conn.Close()
	})
	cw.wg.Wait()
}
