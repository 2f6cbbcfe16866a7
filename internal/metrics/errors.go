package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode"

	"github.com/gorilla/websocket"

	"github.com/torosent/crankfeed/internal/runner"
	wsclient "github.com/torosent/crankfeed/internal/websocket"
)

// Labels used as keys of Stats.Errors.
const (
	LabelAborted   = "Aborted"
	LabelHTTP      = "HTTP error response"
	LabelWSClosed  = "WebSocket closed"
	LabelHandshake = "WebSocket handshake rejected"
	LabelDeadline  = "Context deadline exceeded"
	LabelCanceled  = "Context canceled"
	LabelTimeout   = "Timeout"
	LabelURL       = "Request URL error"
	LabelUnknown   = "Unknown error"
)

// ErrorLabel names the class of err for reports. A known cause anywhere in
// the chain decides the label; otherwise the innermost non-wrapper type is
// humanized with FriendlyErrorName.
func ErrorLabel(err error) string {
	var (
		httpErr  *runner.HTTPError
		closeErr *websocket.CloseError
		hsErr    *wsclient.HandshakeError
		netErr   net.Error
		urlErr   *url.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, runner.ErrAborted):
		return LabelAborted
	case errors.As(err, &httpErr):
		return LabelHTTP
	case errors.As(err, &closeErr):
		return LabelWSClosed
	case errors.As(err, &hsErr):
		return LabelHandshake
	case errors.Is(err, context.DeadlineExceeded):
		return LabelDeadline
	case errors.Is(err, context.Canceled):
		return LabelCanceled
	case errors.As(err, &netErr) && netErr.Timeout():
		return LabelTimeout
	case errors.As(err, &urlErr):
		return LabelURL
	}
	return FriendlyErrorName(typeName(err))
}

// statusOf returns the protocol bucket and code carried by err, if any.
func statusOf(err error) (protocol string, code int, ok bool) {
	var (
		httpErr  *runner.HTTPError
		closeErr *websocket.CloseError
		hsErr    *wsclient.HandshakeError
	)
	switch {
	case errors.As(err, &httpErr):
		return "http", httpErr.StatusCode, true
	case errors.As(err, &closeErr):
		return "websocket", closeErr.Code, true
	case errors.As(err, &hsErr) && hsErr.StatusCode > 0:
		return "websocket", hsErr.StatusCode, true
	}
	return "", 0, false
}

// typeName names the first error in the chain that is not a plain
// fmt.Errorf wrapper.
func typeName(err error) string {
	for {
		name := fmt.Sprintf("%T", err)
		inner := errors.Unwrap(err)
		if inner == nil || name != "*fmt.wrapError" {
			return name
		}
		err = inner
	}
}

// FriendlyErrorName turns a Go type name such as "*fs.PathError" into
// "Path Error (fs)".
func FriendlyErrorName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "*")
	if name == "" {
		return LabelUnknown
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	pkg, typ, found := strings.Cut(name, ".")
	if !found {
		pkg, typ = "", name
	}
	pretty := humanize(typ)
	if pkg == "" || pkg == "main" {
		return pretty
	}
	return fmt.Sprintf("%s (%s)", pretty, pkg)
}

// humanize splits a camel-case identifier into title-cased words. Acronyms
// stay upper case.
func humanize(ident string) string {
	runes := []rune(ident)
	var words []string
	start := 0
	for i := 1; i <= len(runes); i++ {
		if i < len(runes) && !wordBoundary(runes, i) {
			continue
		}
		words = append(words, titleWord(string(runes[start:i])))
		start = i
	}
	return strings.Join(words, " ")
}

func wordBoundary(r []rune, i int) bool {
	prev, cur := r[i-1], r[i]
	switch {
	case unicode.IsUpper(cur) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
		return true
	case unicode.IsUpper(cur) && unicode.IsUpper(prev):
		return i+1 < len(r) && unicode.IsLower(r[i+1])
	case unicode.IsDigit(cur):
		return !unicode.IsDigit(prev)
	}
	return false
}

func titleWord(w string) string {
	if strings.ToUpper(w) == w {
		return w
	}
	runes := []rune(strings.ToLower(w))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
