package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"mpy-sync/internal/config"
	"mpy-sync/internal/history"
	"mpy-sync/internal/tui"
	"mpy-sync/internal/util"
)

var rootCmd = &cobra.Command{
	Use:   "mpy-sync",
	Short: "MicroPython board file manager and project uploader",
	Long: `A CLI tool that mirrors a MicroPython board's filesystem, uploads a local
project incrementally (skipping unchanged files) and runs scripts on the board.
The board is reached through mpremote, either locally or on an SSH host.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cwd, _ := os.Getwd()
		util.Default.Printf("You are in: %s\n", cwd)

		if !config.ConfigExists() {
			util.Default.Println("Config file not found")
			util.Default.Println("USAGE:")
			util.Default.Println("Make sure you have the config file by running.")
			util.Default.Println("mpy-sync init --port /dev/ttyUSB0")
			util.Default.Println("------------------------------")
			showRecentProjectsMenu()
			return nil
		}

		cfg, err := config.LoadAndValidateConfig()
		if err != nil {
			util.Default.Printf("❌ Configuration validation failed:\n%v\n", err)
			util.Default.Println("💡 Please fix the configuration issues or run 'mpy-sync init' to recreate the config")
			return nil
		}
		util.Default.Println("✅ Configuration is valid!")
		_ = history.AddPath(cfg.Root())

		for {
			select {
			case <-ctx.Done():
				util.Default.Println("⏹ Cancelled")
				return nil
			default:
			}
			if !showMainMenu(ctx, cfg) {
				return nil
			}
		}
	},
}

var mainMenu = []tui.MenuItem{
	{Key: "upload", Label: "upload", Hint: "upload changed project files"},
	{Key: "ls", Label: "ls", Hint: "show the board's files"},
	{Key: "run", Label: "run main.py", Hint: "execute main.py without uploading"},
	{Key: "reset", Label: "reset", Hint: "soft reset the board"},
	{Key: "watch", Label: "watch", Hint: "upload on every local change"},
	{Key: "exit", Label: "exit"},
}

// showMainMenu runs one menu round and reports whether to show it again.
func showMainMenu(ctx context.Context, cfg *config.Config) bool {
	choice, err := tui.ShowMenu(mainMenu, fmt.Sprintf("mpy-sync :: %s", cfg.ProjectName))
	if err != nil {
		util.Default.Printf("Menu failed %v\n", err)
		return false
	}

	switch choice {
	case "upload":
		err = uploadProject(ctx, cfg, nil, uploadOptions{})
	case "ls":
		err = withSession(ctx, cfg, true, func(s *session) error {
			util.Default.Print(tui.RenderTree(s.fs.Tree().Root(), -1))
			return nil
		})
	case "run":
		err = withSession(ctx, cfg, false, func(s *session) error {
			return runLocalScript(ctx, s, "main.py")
		})
	case "reset":
		err = withSession(ctx, cfg, false, func(s *session) error {
			return s.fs.Reset(ctx)
		})
	case "watch":
		err = watchProject(ctx, cfg)
	case "exit", tui.Cancelled, "":
		util.Default.Println("Exiting...")
		return false
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		reportDeviceError(err)
		util.Default.Printf("❌ %v\n", err)
	}
	return ctx.Err() == nil
}

func withSession(ctx context.Context, cfg *config.Config, refresh bool, fn func(*session) error) error {
	s, err := openSessionWith(ctx, cfg, refresh)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func showRecentProjectsMenu() {
	paths := history.GetAllPaths()
	if len(paths) == 0 {
		util.Default.Println("No recent projects found.")
		return
	}

	prompt := promptui.SelectWithAdd{
		Label:    "Recent projects (type to search)",
		Items:    paths,
		AddLabel: "Search",
	}
	idx, result, err := prompt.Run()
	if err != nil {
		util.Default.Printf("Prompt failed %v\n", err)
		return
	}

	if idx == -1 {
		results := history.SearchPaths(result)
		if len(results) == 0 {
			util.Default.Printf("No projects found matching '%s'\n", result)
			return
		}
		searchPrompt := promptui.Select{Label: "Search results", Items: results}
		if _, result, err = searchPrompt.Run(); err != nil {
			util.Default.Printf("Prompt failed %v\n", err)
			return
		}
	}

	sub := promptui.Select{
		Label: fmt.Sprintf("Selected: %s", result),
		Items: []string{"Show path", "Forget project", "Back"},
	}
	_, action, err := sub.Run()
	if err != nil {
		return
	}
	switch action {
	case "Show path":
		util.Default.Printf("cd %s\n", result)
	case "Forget project":
		_ = history.RemovePath(result)
		util.Default.Printf("Removed from history: %s\n", result)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(lsCmd, catCmd, getCmd, putCmd, rmCmd, mkdirCmd, touchCmd, mvCmd, renameCmd, cpCmd)
	rootCmd.AddCommand(uploadCmd, runCmd, resetCmd, watchCmd)
}

// ExecuteContext allows running the root command with a supplied context for cancellation.
func ExecuteContext(ctx context.Context) error {
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}
