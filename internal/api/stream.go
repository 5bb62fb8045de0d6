package api

import (
	"context"
	"errors"
	"net/http"
	"ratiobot/internal/models"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamBuffer = 64
	writeWait    = 5 * time.Second
)

var errSlowConsumer = errors.New("stream consumer is behind")

// StreamOperation handles GET /v1/operations/:id/stream. It sends the
// current snapshot, then every progress event, and closes after the
// terminal one.
func (h *Handler) StreamOperation(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.ops.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logEntry().WithError(err).Warn("Stream upgrade failed.")
		return
	}
	defer conn.Close()

	events := make(chan models.ProgressEvent, streamBuffer)
	// Intermediate events are dropped when the client lags; the final
	// one waits for room.
	lid, err := h.ops.RegisterProgressListener(id, func(ctx context.Context, ev models.ProgressEvent) error {
		if ev.Finished {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case events <- ev:
			return nil
		default:
			return errSlowConsumer
		}
	})
	if err != nil {
		h.closeStream(conn, websocket.CloseGoingAway, err.Error())
		return
	}
	defer h.ops.RemoveProgressListener(id, lid)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Snapshot after registering, so a terminal event cannot slip between.
	snap, ok := h.ops.Get(id)
	if !ok {
		h.closeStream(conn, websocket.CloseGoingAway, "operation evicted")
		return
	}
	if err := h.writeEvent(conn, snap.Event()); err != nil {
		return
	}
	if snap.FinishedAt != nil {
		h.closeStream(conn, websocket.CloseNormalClosure, string(snap.Status))
		return
	}

	h.logEntry().WithField("operation_id", id).Debug("Progress stream opened.")
	for {
		select {
		case <-closed:
			return
		case ev := <-events:
			if err := h.writeEvent(conn, ev); err != nil {
				h.logEntry().WithError(err).Debug("Progress stream write failed.")
				return
			}
			if ev.Finished {
				h.closeStream(conn, websocket.CloseNormalClosure, string(ev.Status))
				return
			}
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, ev models.ProgressEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func (h *Handler) closeStream(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
