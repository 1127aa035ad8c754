package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fsminer/internal/logging"
)

var metricsLog = logging.Component("metrics")

// scrapeErrorLog routes collection errors into the component logger.
type scrapeErrorLog struct{}

func (scrapeErrorLog) Println(v ...interface{}) {
	metricsLog.Error("%s", strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// MetricsHandler serves the default registry. A failing collector is logged
// and skipped so one bad gauge does not blank the scrape; clients asking for
// OpenMetrics get it.
func (h *Handlers) MetricsHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:          scrapeErrorLog{},
			ErrorHandling:     promhttp.ContinueOnError,
			EnableOpenMetrics: true,
		}))
}
