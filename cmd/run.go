package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"mpy-sync/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run <file.py>",
	Short: "Execute a local script on the board without uploading it",
	Long:  "Send a local Python file to the board's interpreter and print what it outputs. A traceback raised on the board makes the command fail.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()
		return runLocalScript(ctx, s, args[0])
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Soft reset the board",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.fs.Reset(ctx); err != nil {
			return err
		}
		util.Default.Println("🔄 Board reset")
		return nil
	},
}

func runLocalScript(ctx context.Context, s *session, file string) error {
	path := file
	if !filepath.IsAbs(path) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = filepath.Join(s.cfg.Root(), file)
		}
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	util.Default.Printf("▶ Running %s on %s\n", file, deviceLabel(s.cfg))
	out, err := s.fs.Exec(ctx, string(code))
	if err != nil {
		reportDeviceError(err)
		return err
	}
	if text := strings.TrimRight(string(out), "\r\n"); text != "" {
		util.Default.PrintBlock(text, false)
	}
	return nil
}
