package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-live-chat/internal/domain"
)

// Format limits.
const (
	MinNicknameLen = 3
	MaxNicknameLen = 24
	MinSecretLen   = 8
	MaxSecretLen   = 72 // bcrypt ignores input past 72 bytes
	MaxBodyRunes   = 500
)

// Validation errors returned by ValidateCredentials.
var (
	ErrInvalidNickname = errors.New("invalid nickname")
	ErrInvalidSecret   = errors.New("invalid password")
)

var nicknameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{3,24}$`)

// Credentials is a nickname/password pair as submitted at registration.
type Credentials struct {
	Nickname string `validate:"required,nickname"`
	Secret   string `validate:"required,secret"`
}

// messageBody is a normalized chat message body.
type messageBody struct {
	Body string `validate:"required,max=500,notredacted"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	for tag, fn := range map[string]validator.Func{
		"nickname": func(fl validator.FieldLevel) bool {
			return nicknameRE.MatchString(fl.Field().String())
		},
		// bytes, not runes
		"secret": func(fl validator.FieldLevel) bool {
			n := len(fl.Field().String())
			return n >= MinSecretLen && n <= MaxSecretLen
		},
		"notredacted": func(fl validator.FieldLevel) bool {
			return fl.Field().String() != domain.RedactedBody
		},
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("auth: register %q validation: %v", tag, err))
		}
	}
	return v
}

// ValidateCredentials checks c field by field. The nickname is reported
// before the password.
func ValidateCredentials(c Credentials) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch verrs[0].Field() {
	case "Nickname":
		return ErrInvalidNickname
	default:
		return ErrInvalidSecret
	}
}

// ValidNickname reports whether s is a well-formed nickname.
func ValidNickname(s string) bool {
	return validate.Var(s, "required,nickname") == nil
}

// NormalizeBody converts CRLF to LF and trims surrounding whitespace. The
// second result is false when the body is empty, longer than MaxBodyRunes,
// not valid UTF-8, or exactly the redaction marker.
func NormalizeBody(s string) (string, bool) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSpace(s)
	if !utf8.ValidString(s) {
		return "", false
	}
	if validate.Struct(messageBody{Body: s}) != nil {
		return "", false
	}
	return s, true
}
