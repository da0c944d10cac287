package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mpy-sync/internal/config"
	"mpy-sync/internal/history"
	"mpy-sync/internal/upload"
	"mpy-sync/internal/util"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize config file",
	Long:  `Generate a default mpy-sync.yaml and .mpyignore in the current directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if _, err := os.Stat(filepath.Join(cwd, config.ConfigFileName)); err == nil {
			util.Default.Println("Config file already exists.")
			return nil
		}

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(cwd)
		}
		port, _ := cmd.Flags().GetString("port")

		cfg := config.Default(name, port)
		if err := config.Save(cwd, cfg); err != nil {
			return err
		}
		util.Default.Printf("✅ Created %s\n", filepath.Join(cwd, config.ConfigFileName))

		ignorePath := filepath.Join(cwd, config.IgnoreFileName)
		if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
			if err := os.WriteFile(ignorePath, []byte(upload.DefaultIgnoreFile), 0644); err != nil {
				util.Default.Printf("⚠️  Warning: Failed to create %s file: %v\n", config.IgnoreFileName, err)
			} else {
				util.Default.Printf("✅ Created %s file with default ignore patterns\n", config.IgnoreFileName)
			}
		}

		if err := os.MkdirAll(filepath.Join(cwd, config.StateDir), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", config.StateDir, err)
		}
		_ = history.AddPath(cwd)
		return nil
	},
}

func init() {
	initCmd.Flags().String("port", "", "serial port of the board (empty lets mpremote pick one)")
	initCmd.Flags().String("name", "", "project name (defaults to the directory name)")
}
