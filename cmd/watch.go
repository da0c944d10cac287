package cmd

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/spf13/cobra"

	"mpy-sync/internal/config"
	"mpy-sync/internal/events"
	"mpy-sync/internal/metrics"
	"mpy-sync/internal/upload"
	"mpy-sync/internal/util"
	"mpy-sync/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Upload project files to the board whenever they change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidateConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("metrics"); addr != "" {
			cfg.Metrics.Listen = addr
		}
		return watchProject(cmd.Context(), cfg)
	},
}

func init() {
	watchCmd.Flags().String("metrics", "", "serve Prometheus metrics on this address (overrides metrics.listen)")
}

func watchProject(ctx context.Context, cfg *config.Config) error {
	s, err := openSessionWith(ctx, cfg, true)
	if err != nil {
		reportDeviceError(err)
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				log.Printf("[watch] metrics server: %v", err)
			}
		}()
		util.Default.Printf("📈 Metrics on http://%s/metrics\n", cfg.Metrics.Listen)
	}

	if err := s.upload(ctx, nil, uploadOptions{}); err != nil && !errors.Is(err, context.Canceled) {
		util.Default.Printf("❌ %v\n", err)
	}

	req, err := upload.RequestFromConfig(cfg, nil)
	if err != nil {
		return err
	}
	w := watch.New(req.ProjectRoot, req.Ignore, func(ctx context.Context, paths []string) {
		only := map[string]bool{}
		for _, p := range paths {
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				only[p] = true
			}
		}
		if len(only) == 0 {
			return
		}
		// Re-plan the whole project so remote paths follow the source roots.
		if err := s.upload(ctx, nil, uploadOptions{only: only}); err != nil && !errors.Is(err, context.Canceled) {
			util.Default.Printf("❌ %v\n", err)
		}
	})

	events.GlobalBus.Publish(events.EventWatcherStarted)
	defer events.GlobalBus.Publish(events.EventWatcherStopped)
	util.Default.Println("👀 Watching for changes, press Ctrl+C to stop")
	err = w.Run(ctx)
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}
