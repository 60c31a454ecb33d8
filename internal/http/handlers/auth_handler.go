// Account HTTP handlers.
//
//   - POST /auth/register  (create an account, returns a token)
//   - POST /auth/login     (exchange credentials for a token)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-live-chat/internal/domain"
)

// CredentialsRequest is the payload for register and login.
type CredentialsRequest struct {
	Nickname string `json:"nickname" example:"alice"`
	Password string `json:"password" example:"correct-horse"`
}

// RegisterResponse carries the new account and its first token.
type RegisterResponse struct {
	User  *domain.Account `json:"user"`
	Token string          `json:"token" example:"eyJhbGciOiJIUzI1NiIs..."`
}

// LoginResponse carries a fresh bearer token.
type LoginResponse struct {
	Nickname string `json:"nickname" example:"alice"`
	Token    string `json:"token" example:"eyJhbGciOiJIUzI1NiIs..."`
}

// Register godoc
// @ID          register
// @Summary     Register an account
// @Description Creates an account and returns it with a bearer token. Nicknames are 3-24 characters of letters, digits, '_' or '-'; "system" is reserved.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Nickname and password"
// @Success     201   {object}  handlers.RegisterResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid nickname or password"
// @Failure     403   {object}  handlers.ErrorResponse  "Nickname belongs to a banned account"
// @Failure     409   {object}  handlers.ErrorResponse  "Nickname taken"
// @Failure     503   {object}  handlers.ErrorResponse  "Storage unavailable"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	acct, tok, err := h.chat.Register(c.Request.Context(), req.Nickname, req.Password)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusCreated, RegisterResponse{User: acct, Token: tok})
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Verifies credentials and returns a bearer token. Unknown nicknames and wrong passwords are indistinguishable.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Nickname and password"
// @Success     200   {object}  handlers.LoginResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     403   {object}  handlers.ErrorResponse  "Account banned"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	tok, err := h.chat.Login(c.Request.Context(), req.Nickname, req.Password)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, LoginResponse{Nickname: req.Nickname, Token: tok})
}
