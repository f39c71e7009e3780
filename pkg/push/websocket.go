package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/discussion-experiments/pkg/eventlog"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var errClientClosed = errors.New("client closed the connection")

// ServeWebsocket subscribes the connection to the log and pushes every batch to it as a text
// message until the client goes away, the context is cancelled, or the connection falls too far
// behind. The connection is closed on return.
func ServeWebsocket(ctx context.Context, wc *websocket.Conn, l Log, queueSize int) error {
	c := newConn(queueSize)
	logger := slog.With("conn", c.id.String())
	logger.Info("subscribing", "remote", wc.RemoteAddr().String())
	l.Subscribe(c)
	defer l.Unsubscribe(c)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			// clients only ever send control frames, so anything else is discarded
			if _, _, err := wc.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.stop(errClientClosed)
				} else {
					c.stop(fmt.Errorf("failed to read message: %w", err))
				}
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer wc.Close()
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case raw := <-c.send:
				_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := wc.WriteMessage(websocket.TextMessage, raw); err != nil {
					c.stop(fmt.Errorf("failed to write message: %w", err))
					return
				}
			case <-t.C:
				if err := wc.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					c.stop(fmt.Errorf("failed to ping: %w", err))
					return
				}
			case <-c.done:
				closeGracefully(wc)
				return
			case <-ctx.Done():
				c.stop(nil)
				closeGracefully(wc)
				return
			}
		}
	}()

	wg.Wait()
	err := c.reason()
	if errors.Is(err, errClientClosed) {
		err = nil
	}
	logger.Info("unsubscribing", "err", err)
	return err
}

func closeGracefully(wc *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = wc.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

// Receive reads pushed batches from a websocket and hands each one to the handler in order. It
// returns nil when the server closes the connection normally or the context is cancelled.
func Receive(ctx context.Context, wc *websocket.Conn, handler func([]eventlog.Event)) error {
	stop := context.AfterFunc(ctx, func() {
		_ = wc.Close()
	})
	defer stop()

	for {
		mt, p, err := wc.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		batch, err := DecodeBatch(p)
		if err != nil {
			return err
		}
		handler(batch)
	}
}
