// Moderation HTTP handlers. All routes sit behind the operator credential.
//
//   - POST   /admin/wipe
//   - DELETE /admin/messages/{id}
//   - POST   /admin/messages/{id}/warn
//   - POST   /admin/users/{nickname}/ban
//   - POST   /admin/users/{nickname}/unban
//   - DELETE /admin/users/{nickname}
//   - GET    /admin/users?state=all|banned|active
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-live-chat/internal/domain"
	"github.com/tbourn/go-live-chat/internal/services"
	"github.com/tbourn/go-live-chat/internal/utils"
)

// ModerationResponse returns the message a moderation action produced or
// touched: the redacted message, or the system log entry.
type ModerationResponse struct {
	Message *domain.Message `json:"message"`
}

// AccountsResponse lists accounts sorted case-insensitively by nickname.
type AccountsResponse struct {
	Users []domain.Account `json:"users"`
}

func messageID(c *gin.Context) (uint64, bool) {
	id, valid := utils.ParsePositiveID(c.Param("id"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id must be a positive integer")
	}
	return id, valid
}

// Wipe godoc
// @ID          adminWipe
// @Summary     Clear the whole history
// @Tags        Admin
// @Security    AdminToken
// @Success     204
// @Failure     401  {object}  handlers.ErrorResponse  "Admin credential required"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /admin/wipe [post]
func (h *Handlers) Wipe(c *gin.Context) {
	if err := h.mod.Wipe(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	noContent(c)
}

// DeleteMessage godoc
// @ID          adminDeleteMessage
// @Summary     Redact a message
// @Description Replaces the body with "message deleted". Repeating the call is harmless.
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       id   path      int  true  "Message id"
// @Success     200  {object}  handlers.ModerationResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad id"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Router      /admin/messages/{id} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	id, valid := messageID(c)
	if !valid {
		return
	}
	m, err := h.mod.DeleteMessage(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ModerationResponse{Message: m})
}

// WarnMessage godoc
// @ID          adminWarn
// @Summary     Redact a message and warn its author
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       id   path      int  true  "Message id"
// @Success     200  {object}  handlers.ModerationResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad id"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Router      /admin/messages/{id}/warn [post]
func (h *Handlers) WarnMessage(c *gin.Context) {
	id, valid := messageID(c)
	if !valid {
		return
	}
	m, err := h.mod.Warn(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ModerationResponse{Message: m})
}

// Ban godoc
// @ID          adminBan
// @Summary     Ban an account
// @Description Marks the account banned, redacts all its messages and logs a system entry. Streams receive purge, ban and message in that order.
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       nickname  path      string  true  "Nickname"
// @Success     200       {object}  handlers.ModerationResponse
// @Failure     404       {object}  handlers.ErrorResponse  "Account not found"
// @Router      /admin/users/{nickname}/ban [post]
func (h *Handlers) Ban(c *gin.Context) {
	m, err := h.mod.Ban(c.Request.Context(), c.Param("nickname"))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ModerationResponse{Message: m})
}

// Unban godoc
// @ID          adminUnban
// @Summary     Lift a ban
// @Description Clears the ban flag and logs a system entry. Unbanning an account that is not banned succeeds.
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       nickname  path      string  true  "Nickname"
// @Success     200       {object}  handlers.ModerationResponse
// @Failure     404       {object}  handlers.ErrorResponse  "Account not found"
// @Router      /admin/users/{nickname}/unban [post]
func (h *Handlers) Unban(c *gin.Context) {
	m, err := h.mod.Unban(c.Request.Context(), c.Param("nickname"))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ModerationResponse{Message: m})
}

// DeleteAccount godoc
// @ID          adminDeleteAccount
// @Summary     Delete an account and its messages
// @Tags        Admin
// @Security    AdminToken
// @Param       nickname  path  string  true  "Nickname"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse  "Account not found"
// @Router      /admin/users/{nickname} [delete]
func (h *Handlers) DeleteAccount(c *gin.Context) {
	if err := h.mod.DeleteAccount(c.Request.Context(), c.Param("nickname")); err != nil {
		respondErr(c, err)
		return
	}
	noContent(c)
}

// ListUsers godoc
// @ID          adminListUsers
// @Summary     List accounts
// @Tags        Admin
// @Produce     json
// @Security    AdminToken
// @Param       state  query     string  false  "all, banned or active"  Enums(all, banned, active) default(all)
// @Success     200    {object}  handlers.AccountsResponse
// @Failure     400    {object}  handlers.ErrorResponse  "Unknown state"
// @Router      /admin/users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	filter := services.AccountFilter(c.DefaultQuery("state", string(services.FilterAll)))
	users, err := h.mod.ListAccounts(c.Request.Context(), filter)
	if err != nil {
		respondErr(c, err)
		return
	}
	if users == nil {
		users = []domain.Account{}
	}
	ok(c, http.StatusOK, AccountsResponse{Users: users})
}
