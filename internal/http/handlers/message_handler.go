// Message HTTP handlers.
//
//   - GET  /messages         (history for an authenticated participant)
//   - GET  /public/messages  (read-only history, no account)
//   - POST /messages         (post a message, Idempotency-Key aware)
//
// History responses carry a weak ETag derived from the rows being served,
// so a redaction or a wipe changes the validator even when the row count
// does not.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-live-chat/internal/domain"
	"github.com/tbourn/go-live-chat/internal/http/middleware"
	"github.com/tbourn/go-live-chat/internal/repo"
	"github.com/tbourn/go-live-chat/internal/utils"
)

// PostMessageRequest is the payload for posting.
type PostMessageRequest struct {
	// Body is 1-500 characters after trimming; CRLF is normalized to LF.
	Body string `json:"body" example:"hi"`
}

// PostMessageResponse wraps the created (or replayed) message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// HistoryResponse lists messages oldest first.
type HistoryResponse struct {
	Messages []domain.Message `json:"messages"`
}

func historyETag(s repo.HistoryStats, limit int) string {
	var ts int64
	if s.MaxUpdatedAt != nil {
		ts = s.MaxUpdatedAt.UnixNano()
	}
	return fmt.Sprintf(`W/"messages:%d:%d:%d:%d"`, s.Count, s.MaxID, ts, limit)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Read chat history
// @Description Returns up to `limit` most recent messages, oldest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       limit  query     int  false  "Max messages"  minimum(1) maximum(100) default(100)
// @Success     200    {object}  handlers.HistoryResponse
// @Success     304    "Not modified"
// @Failure     401    {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403    {object}  handlers.ErrorResponse  "Account banned"
// @Failure     503    {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	limit := utils.Clamp(utils.AtoiDefault(c.Query("limit"), h.opts.HistoryLimit), 1, h.opts.HistoryLimit)

	items, err := h.chat.History(ctx, middleware.CurrentUser(c), limit)
	if err != nil {
		respondErr(c, err)
		return
	}

	etag := historyETag(repo.SummarizeMessages(items), limit)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}
	if items == nil {
		items = []domain.Message{}
	}
	ok(c, http.StatusOK, HistoryResponse{Messages: items})
}

// ListPublicMessages godoc
// @ID          listPublicMessages
// @Summary     Read chat history anonymously
// @Description Same as GET /messages without an account.
// @Tags        Messages
// @Produce     json
// @Param       limit  query     int  false  "Max messages"  minimum(1) maximum(100) default(100)
// @Success     200    {object}  handlers.HistoryResponse
// @Success     304    "Not modified"
// @Failure     503    {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /public/messages [get]
func (h *Handlers) ListPublicMessages(c *gin.Context) { h.ListMessages(c) }

// PostMessage godoc
// @ID          postMessage
// @Summary     Post a message
// @Description Appends a message and broadcasts it to every stream. Posting is limited to 5 messages per 10s; exceeding it starts a 60s cooldown.
// @Description With an Idempotency-Key, a retry returns the originally created message with `Idempotency-Replayed: true` and does not count against the limit.
// @Description If that message has since left the history, the retry gets 409 replay_unavailable and nothing is posted.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string                       false  "Key for safe retries"
// @Param       body             body      handlers.PostMessageRequest  true   "Message"
// @Success     201              {object}  handlers.PostMessageResponse
// @Failure     400              {object}  handlers.ErrorResponse        "Invalid message"
// @Failure     401              {object}  handlers.ErrorResponse        "Unauthorized"
// @Failure     403              {object}  handlers.ErrorResponse        "Account banned"
// @Failure     409              {object}  handlers.ErrorResponse        "Idempotency key used, message gone"
// @Failure     429              {object}  handlers.RateLimitedResponse  "Cooling down"
// @Failure     503              {object}  handlers.ErrorResponse        "Storage unavailable"
// @Router      /messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	m, replayed, err := h.chat.PostOnce(c.Request.Context(), middleware.CurrentUser(c), key, req.Body, h.now())
	if err != nil {
		respondErr(c, err)
		return
	}
	if replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusCreated, PostMessageResponse{Message: m})
}
