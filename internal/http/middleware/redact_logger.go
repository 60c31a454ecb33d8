// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger. It attaches a
// request-scoped zerolog.Logger to the context and, after the handler runs,
// writes one structured line per request with credentials scrubbed:
//
//   - Sensitive headers (Authorization, Cookie, Set-Cookie, X-Admin-Token and
//     any configured extras) are replaced with "[REDACTED]".
//   - Sensitive query parameters (token by default, used by EventSource
//     clients that cannot send headers) are replaced with "[REDACTED]".
//   - Anything shaped like a JWT or an e-mail address is scrubbed from the
//     remaining query string and header values.
//
// Request and response bodies are never logged.
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
type RedactOptions struct {
	// MaskHeaders lists extra header names (case-insensitive) to mask.
	MaskHeaders []string
	// MaskQuery lists extra query parameter names (case-insensitive) to mask.
	MaskQuery []string
	// Logger is the base logger; the global logger when nil.
	Logger *zerolog.Logger
}

var (
	jwtRE   = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

func scrub(s string) string {
	if s == "" {
		return s
	}
	s = jwtRE.ReplaceAllString(s, "[REDACTED:token]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

func lowerSet(base []string, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, k := range list {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				out[k] = struct{}{}
			}
		}
	}
	return out
}

// redactQuery masks listed parameters and scrubs the rest. An unparsable
// query is scrubbed as a whole.
func redactQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return scrub(raw)
	}
	for k, vv := range vals {
		_, masked := mask[strings.ToLower(k)]
		for i := range vv {
			if masked {
				vv[i] = "[REDACTED]"
			} else {
				vv[i] = scrub(vv[i])
			}
		}
	}
	// Encode escapes the brackets; keep the marker readable in logs.
	out := strings.ReplaceAll(vals.Encode(), "%5BREDACTED%5D", "[REDACTED]")
	out = strings.ReplaceAll(out, "%5BREDACTED%3Atoken%5D", "[REDACTED:token]")
	return strings.ReplaceAll(out, "%5BREDACTED%3Aemail%5D", "[REDACTED:email]")
}

// RedactingLogger returns a Gin middleware that attaches a request-scoped
// logger and logs each request with sensitive values scrubbed.
//
// Level follows outcome: error for 5xx or when Gin collected errors, warn
// for 4xx, info otherwise. The authenticated nickname, when set by the auth
// middleware, is included.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie", "x-admin-token"}, opts.MaskHeaders)
	maskQuery := lowerSet([]string{"token", "access_token"}, opts.MaskQuery)

	return func(c *gin.Context) {
		start := time.Now()

		base := log.Logger
		if opts.Logger != nil {
			base = *opts.Logger
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		rid, _ := c.Get(requestIDKey)
		scoped := base.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &scoped)

		safeQuery := truncate(redactQuery(c.Request.URL.RawQuery, maskQuery), maxQueryLogLength)
		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		uid, _ := c.Get(userIDKey)

		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0:
			ev = scoped.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = scoped.Error()
		case status >= 400:
			ev = scoped.Warn()
		default:
			ev = scoped.Info()
		}
		ev.
			Str("nickname", asString(uid)).
			Str("query", safeQuery).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
