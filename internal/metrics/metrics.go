// Package metrics exposes Prometheus counters for device traffic and uploads.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Device command metrics
	deviceCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpysync_device_commands_total",
			Help: "Total number of scripts sent to the device",
		},
		[]string{"class", "status"},
	)

	deviceCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpysync_device_command_duration_seconds",
			Help:    "Round-trip time of a device script",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"class"},
	)

	// Upload metrics
	uploadFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpysync_upload_files_total",
			Help: "Files handled by the uploader, by action",
		},
		[]string{"action"},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mpysync_upload_bytes_total",
			Help: "Total bytes written to the device",
		},
	)

	// Remote tree metrics
	treeRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpysync_tree_refresh_total",
			Help: "Remote tree refreshes, by status",
		},
		[]string{"status"},
	)

	treeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mpysync_tree_nodes",
			Help: "Number of nodes in the last installed remote tree",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCommand records one device round-trip.
func RecordCommand(class string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	deviceCommandsTotal.WithLabelValues(class, status).Inc()
	deviceCommandDuration.WithLabelValues(class).Observe(duration.Seconds())
}

// RecordUpload records a transferred or skipped file.
func RecordUpload(action string, bytes int64) {
	uploadFilesTotal.WithLabelValues(action).Inc()
	if bytes > 0 {
		uploadBytesTotal.Add(float64(bytes))
	}
}

func RecordRefresh(nodes int, err error) {
	if err != nil {
		treeRefreshTotal.WithLabelValues("error").Inc()
		return
	}
	treeRefreshTotal.WithLabelValues("ok").Inc()
	treeNodes.Set(float64(nodes))
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[metrics] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
