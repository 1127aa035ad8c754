package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	dto "github.com/prometheus/client_model/go"

	"fsminer/internal/logging"
	"fsminer/internal/metrics"
)

func TestNewResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	if rw.statusCode != http.StatusOK {
		t.Errorf("Expected default status code 200, got %d", rw.statusCode)
	}
	if rw.bytesWritten != 0 {
		t.Errorf("Expected bytesWritten to be 0, got %d", rw.bytesWritten)
	}
	if rw.wroteHeader {
		t.Error("Expected wroteHeader to be false initially")
	}
}

func TestResponseWriterWriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	rw.WriteHeader(http.StatusNotFound)
	if rw.statusCode != http.StatusNotFound {
		t.Errorf("Expected status code 404, got %d", rw.statusCode)
	}

	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusNotFound {
		t.Error("Status code should not change after first WriteHeader")
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected recorder code 404, got %d", w.Code)
	}
}

func TestResponseWriterWrite(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	data := []byte("test data")
	n, err := rw.Write(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != len(data) {
		t.Errorf("Expected to write %d bytes, wrote %d", len(data), n)
	}
	if rw.bytesWritten != int64(len(data)) {
		t.Errorf("Expected bytesWritten to be %d, got %d", len(data), rw.bytesWritten)
	}
	if !rw.wroteHeader {
		t.Error("Expected wroteHeader to be true after Write")
	}
}

func TestResponseWriterHijackUnsupported(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("Expected error hijacking a recorder")
	}
	if rw.hijacked {
		t.Error("hijacked should stay false on failure")
	}
}

func TestDefaultLoggingConfig(t *testing.T) {
	config := DefaultLoggingConfig()

	if len(config.SkipPaths) != 0 {
		t.Errorf("Expected empty SkipPaths, got %d items", len(config.SkipPaths))
	}
	if !config.LogHealthChecks {
		t.Error("Expected LogHealthChecks to be true by default")
	}
}

func TestLoggerMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		config        LoggingConfig
		expectLogging bool
	}{
		{"Logs regular requests", "/api/roots", DefaultLoggingConfig(), true},
		{"Skips configured paths", "/api/events", LoggingConfig{SkipPaths: []string{"/api/events"}}, false},
		{"Logs health checks when enabled", "/health", LoggingConfig{LogHealthChecks: true}, true},
		{"Skips health checks when disabled", "/readyz", LoggingConfig{LogHealthChecks: false}, false},
	}

	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stderr) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			w := httptest.NewRecorder()
			Logger(tt.config)(handler).ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", w.Code)
			}
			logged := strings.Contains(buf.String(), tt.path)
			if logged != tt.expectLogging {
				t.Errorf("Expected logging=%v, got %v (output %q)", tt.expectLogging, logged, buf.String())
			}
		})
	}
}

func TestLoggerLineFormat(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stderr) })

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("12345"))
	})
	req := httptest.NewRequest(http.MethodPost, "/api/roots?x=1", http.NoBody)
	req.Header.Set("User-Agent", "test agent")
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")

	Logger(DefaultLoggingConfig())(handler).ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	for _, want := range []string{"10.0.0.1 POST /api/roots x=1 201 5 ", `"test agent"`} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %q in log line %q", want, line)
		}
	}
}

func TestLoggerWritesDirectivesOnce(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stderr) })

	handler := Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for range 3 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody))
	}

	out := buf.String()
	if n := strings.Count(out, "#Fields: "+w3cFields); n != 1 {
		t.Errorf("Expected one #Fields directive, got %d in %q", n, out)
	}
	if n := strings.Count(out, "#Software: fsminer/"); n != 1 {
		t.Errorf("Expected one #Software directive, got %d", n)
	}
	if n := strings.Count(out, " GET /api/status - 204 0 "); n != 3 {
		t.Errorf("Expected 3 access lines, got %d in %q", n, out)
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := map[string]string{
		"plain":           "plain",
		"line\nbreak":     "line break",
		"cr\rlf":          "cr lf",
		"nul\x00byte":     "nulbyte",
		"esc\x1b[31mred":  "esc[31mred",
		"tab\tkept":       "tab\tkept",
		"bell\x07removed": "bellremoved",
		"del\x7fgone":      "delgone",
	}
	for in, want := range tests {
		if got := sanitizeLogField(in); got != want {
			t.Errorf("sanitizeLogField(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.168.1.5:5555"
	if got := getClientIP(req); got != "192.168.1.5" {
		t.Errorf("Expected 192.168.1.5, got %s", got)
	}

	req.RemoteAddr = "[2001:db8::1]:443"
	if got := getClientIP(req); got != "2001:db8::1" {
		t.Errorf("Expected 2001:db8::1, got %s", got)
	}

	req.Header.Set("X-Real-IP", "172.16.0.9")
	if got := getClientIP(req); got != "172.16.0.9" {
		t.Errorf("Expected X-Real-IP, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", " 10.1.1.1 ")
	if got := getClientIP(req); got != "10.1.1.1" {
		t.Errorf("Expected X-Forwarded-For, got %s", got)
	}
}

func TestDefaultMetricsConfig(t *testing.T) {
	config := DefaultMetricsConfig()
	want := map[string]bool{"/metrics": true, "/health": true, "/livez": true, "/readyz": true}
	for _, p := range config.SkipPaths {
		delete(want, p)
	}
	if len(want) != 0 {
		t.Errorf("Missing skip paths: %v", want)
	}
}

func TestMetricsMiddlewareSkipPaths(t *testing.T) {
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})
	wrappedHandler := Metrics(MetricsConfig{SkipPaths: []string{"/metrics", "/health"}})(handler)

	for _, path := range []string{"/metrics", "/health", "/api/status", "/"} {
		t.Run(path, func(t *testing.T) {
			handlerCalled = false
			req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
			wrappedHandler.ServeHTTP(httptest.NewRecorder(), req)
			if !handlerCalled {
				t.Error("Expected handler to be called")
			}
		})
	}
}

func counterValue(t *testing.T, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.HTTPRequestsTotal.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Metrics(DefaultMetricsConfig()))
	router.HandleFunc("/api/resources/{path:.*}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	before := counterValue(t, http.MethodGet, "/api/resources/{path:.*}", "404")

	for _, p := range []string{"/api/resources/a/b/c.txt", "/api/resources/x"} {
		req := httptest.NewRequest(http.MethodGet, p, http.NoBody)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	after := counterValue(t, http.MethodGet, "/api/resources/{path:.*}", "404")
	if after-before != 2 {
		t.Errorf("Expected 2 requests recorded under the route template, got %v", after-before)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/api/roots", "/api/roots"},
		{"/api/status", "/api/status"},
		{"/", "/"},
		{"/api/resources/home/user/file.txt", "/api/resources/home/{path}"},
		{"/very/deep/path/with/segments", "/very/deep/path/{path}"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.expected)
		}
	}
}

func TestWebsocketUpgradeThroughMiddleware(t *testing.T) {
	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	})

	chain := Logger(DefaultLoggingConfig())(Metrics(DefaultMetricsConfig())(handler))
	srv := httptest.NewServer(chain)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("Expected 101, got %d", resp.StatusCode)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(msg) != "hello" {
		t.Errorf("Expected hello, got %q", msg)
	}
}

func BenchmarkLoggingMiddleware(b *testing.B) {
	logging.SetOutput(io.Discard)
	defer logging.SetOutput(os.Stderr)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	wrappedHandler := Logger(DefaultLoggingConfig())(handler)
	req := httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)

	for b.Loop() {
		wrappedHandler.ServeHTTP(httptest.NewRecorder(), req)
	}
}

func BenchmarkMetricsMiddleware(b *testing.B) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrappedHandler := Metrics(DefaultMetricsConfig())(handler)
	req := httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody)

	for b.Loop() {
		wrappedHandler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
