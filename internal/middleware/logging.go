package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"fsminer/internal/logging"
	"fsminer/internal/startup"
)

// w3cFields is the #Fields directive written before the first access line.
const w3cFields = "date time c-ip cs-method cs-uri-stem cs-uri-query sc-status sc-bytes time-taken cs(User-Agent)"

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	SkipPaths       []string
	LogHealthChecks bool
}

// DefaultLoggingConfig logs everything, probes included.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:       []string{},
		LogHealthChecks: true,
	}
}

// W3CLogger writes control API requests in W3C Extended Log Format.
type W3CLogger struct {
	config      LoggingConfig
	serviceName string
	header      sync.Once
}

// NewW3CLogger creates a logger that announces itself as serviceName.
func NewW3CLogger(config LoggingConfig, serviceName string) *W3CLogger {
	return &W3CLogger{
		config:      config,
		serviceName: serviceName,
	}
}

var probePaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/livez":   true,
	"/readyz":  true,
}

// sanitizeLogField strips control characters so request data cannot forge
// log lines. Line breaks become spaces and tabs are kept.
func sanitizeLogField(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n', r == '\r':
			return ' '
		case r == '\t':
			return r
		case r < 0x20, r == 0x7f:
			return -1
		}
		return r
	}, s)
}

// Logger returns the access log middleware. Websocket sessions are logged
// once they end, with the time-taken covering the whole session.
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	logger := NewW3CLogger(config, "fsminer/"+startup.Version)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.wants(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)
			logger.log(r, wrapped, time.Since(start))
		})
	}
}

func (l *W3CLogger) wants(path string) bool {
	if !l.config.LogHealthChecks && probePaths[path] {
		return false
	}
	for _, prefix := range l.config.SkipPaths {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

func (l *W3CLogger) log(r *http.Request, rw *responseWriter, took time.Duration) {
	l.header.Do(func() {
		logging.Println("#Software: " + l.serviceName)
		logging.Println("#Fields: " + w3cFields)
	})

	now := time.Now().UTC()
	var b strings.Builder
	b.Grow(128)
	b.WriteString(now.Format("2006-01-02 15:04:05"))
	for _, f := range []string{
		sanitizeLogField(getClientIP(r)),
		sanitizeLogField(r.Method),
		sanitizeLogField(r.URL.Path),
		orDash(sanitizeLogField(r.URL.RawQuery)),
		strconv.Itoa(rw.statusCode),
		strconv.FormatInt(rw.bytesWritten, 10),
		strconv.FormatInt(took.Milliseconds(), 10),
		orDash(escapeW3CField(sanitizeLogField(r.Header.Get("User-Agent")))),
	} {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	logging.Println(b.String())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the peer address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// escapeW3CField quotes a field containing whitespace or quotes.
func escapeW3CField(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
