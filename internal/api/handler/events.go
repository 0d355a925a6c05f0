package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/visual-diff/internal/api/dto"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const eventWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamEvents handles GET /api/v1/jobs/:job_id/events
// Upgrades to a websocket and pushes a job snapshot on every status or
// progress change. The stream ends with the terminal snapshot.
func (h *JobHandler) StreamEvents(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.jobs.Watch(ctx, jobID, h.eventInterval)
	if err != nil {
		h.abortWithError(c, err, "Failed to watch job")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	// the client never sends; reading only notices when it goes away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent := 0
	for job := range events {
		_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteJSON(dto.FromJob(job)); err != nil {
			h.logger.Debug("Event stream closed by client",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return
		}
		sent++
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
		time.Now().Add(eventWriteTimeout))
	h.logger.Debug("Event stream finished",
		slog.String("job_id", jobID),
		slog.Int("events", sent),
	)
}
