package cmd

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/spf13/cobra"

	"mpy-sync/internal/config"
	"mpy-sync/internal/events"
	"mpy-sync/internal/tui"
	"mpy-sync/internal/upload"
	"mpy-sync/internal/util"
)

type uploadOptions struct {
	reset  bool
	dryRun bool
	// only restricts the plan to these local paths when non-nil.
	only map[string]bool
}

var uploadCmd = &cobra.Command{
	Use:   "upload [path]...",
	Short: "Upload the project, or the given files and folders, to the board",
	Long: `Upload local files to the board. Without arguments the whole project is
uploaded; files whose size and checksum already match the board are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidateConfig()
		if err != nil {
			return err
		}
		var opts uploadOptions
		opts.reset, _ = cmd.Flags().GetBool("reset")
		opts.dryRun, _ = cmd.Flags().GetBool("dry-run")
		return uploadProject(cmd.Context(), cfg, args, opts)
	},
}

func init() {
	uploadCmd.Flags().Bool("reset", false, "soft reset the board after a successful upload")
	uploadCmd.Flags().Bool("dry-run", false, "show what would be transferred without writing")
}

func uploadProject(ctx context.Context, cfg *config.Config, targets []string, opts uploadOptions) error {
	s, err := openSessionWith(ctx, cfg, true)
	if err != nil {
		reportDeviceError(err)
		return err
	}
	defer s.Close()
	return s.upload(ctx, targets, opts)
}

// upload plans targets (the whole project when empty) and transfers them.
func (s *session) upload(ctx context.Context, targets []string, opts uploadOptions) error {
	req, err := upload.RequestFromConfig(s.cfg, targets)
	if err != nil {
		return err
	}
	cands, err := upload.Plan(ctx, req)
	if err != nil {
		return err
	}
	if opts.only != nil {
		kept := cands[:0]
		for _, c := range cands {
			if opts.only[c.LocalPath] {
				kept = append(kept, c)
			}
		}
		cands = kept
	}
	if len(cands) == 0 {
		util.Default.Println("Nothing to upload")
		return nil
	}

	runner := &upload.Runner{
		FS: s.fs,
		Checker: &upload.Checker{
			FS:         s.fs,
			Index:      s.index,
			SizeOnly:   s.cfg.Upload.SkipMode == config.SkipSize,
			TrustIndex: s.cfg.TrustIndex(),
		},
		DryRun:   opts.dryRun,
		Progress: tui.NewUploadProgress(util.Default).Report,
	}

	start := time.Now()
	rep, runErr := runner.Run(ctx, cands)
	printReport(rep, opts.dryRun, time.Since(start))
	if opts.dryRun {
		return runErr
	}

	st, err := config.LoadLocalState(s.cfg.Root())
	if err == nil {
		st.LastUpload = &config.UploadSummary{
			At:          time.Now(),
			Device:      s.cfg.DeviceKey(),
			Transferred: len(rep.Transferred),
			Skipped:     len(rep.Skipped),
			Failed:      runErr != nil,
		}
		err = st.Save(s.cfg.Root())
	}
	if err != nil {
		log.Printf("[cmd] saving local state: %v", err)
	}
	events.GlobalBus.Publish(events.EventUploadCompleted, rep)

	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) {
			reportDeviceError(runErr)
		}
		return runErr
	}
	if opts.reset || s.cfg.Run.ResetOnSuccess {
		util.Default.Println("🔄 Soft reset")
		if err := s.fs.Reset(ctx); err != nil {
			return err
		}
	}
	return nil
}

func printReport(rep upload.Report, dryRun bool, took time.Duration) {
	verb := "Transferred"
	if dryRun {
		verb = "Would transfer"
	}
	util.Default.Printf("%s %d, skipped %d in %s\n", verb, len(rep.Transferred), len(rep.Skipped), took.Round(time.Millisecond))
	if dryRun {
		for _, p := range rep.Transferred {
			util.Default.Printf("  ⬆ %s\n", p)
		}
	}
	if rep.Failed != "" {
		util.Default.Printf("✗ %s failed and may be incomplete on the device\n", rep.Failed)
	}
	if n := len(rep.NotAttempted); n > 0 {
		util.Default.Printf("⚠️  %d file(s) not attempted:\n", n)
		for _, p := range rep.NotAttempted {
			util.Default.Printf("  - %s\n", p)
		}
	}
}
