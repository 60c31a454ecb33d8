// Stream HTTP handlers.
//
//   - GET /stream         (authenticated; token via header or ?token=)
//   - GET /public/stream  (anonymous)
//
// Both serve text/event-stream. The first frame carries the reconnect hint
// and the ready event; the stream then relays hub events until the client
// disconnects or the hub closes the subscriber (overflow or shutdown).
package handlers

import (
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-live-chat/internal/http/middleware"
)

// Stream godoc
// @ID          stream
// @Summary     Live event stream
// @Description Server-sent events: ready, message, clear, delete, warn, ban, purge and ping heartbeats. EventSource clients may pass the token as ?token=.
// @Tags        Stream
// @Produce     text/event-stream
// @Security    BearerAuth
// @Param       token  query   string  false  "Bearer token for clients that cannot set headers"
// @Success     200    {string} string "event stream"
// @Failure     401    {object} handlers.ErrorResponse "Unauthorized"
// @Failure     403    {object} handlers.ErrorResponse "Account banned"
// @Router      /stream [get]
func (h *Handlers) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.chat.OpenStream(ctx, middleware.CurrentUser(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	defer h.chat.CloseStream(sub)

	hdr := c.Writer.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	lg := middleware.LoggerFrom(c)
	lg.Debug().Str("subscriber", sub.ID()).Msg("stream opened")

	retry := uint(h.opts.StreamRetry.Milliseconds())
	for {
		select {
		case <-ctx.Done():
			lg.Debug().Str("subscriber", sub.ID()).Msg("stream closed by client")
			return
		case ev, open := <-sub.Events():
			if !open {
				lg.Debug().Str("subscriber", sub.ID()).Msg("stream closed by hub")
				return
			}
			c.Render(-1, sse.Event{Event: string(ev.Kind), Data: ev.Data, Retry: retry})
			c.Writer.Flush()
			// The hint only needs to go out once.
			retry = 0
		}
	}
}

// PublicStream godoc
// @ID          publicStream
// @Summary     Anonymous live event stream
// @Description Same events as GET /stream without an account.
// @Tags        Stream
// @Produce     text/event-stream
// @Success     200  {string} string "event stream"
// @Router      /public/stream [get]
func (h *Handlers) PublicStream(c *gin.Context) { h.Stream(c) }
