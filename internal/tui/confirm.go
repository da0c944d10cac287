package tui

import (
	"errors"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"

	"mpy-sync/internal/util"
)

// Confirm asks a yes/no question. Non-interactive stdin, or
// MPY_SYNC_ASSUME_YES set to a true value, answers yes without asking.
func Confirm(question string) (bool, error) {
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("MPY_SYNC_ASSUME_YES"))); v == "1" || v == "true" || v == "yes" {
		return true, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		util.Default.Println("ℹ️  Non-interactive stdin detected, skipping confirmation")
		return true, nil
	}

	util.Default.Suspend()
	defer util.Default.Resume()
	prompt := promptui.Prompt{Label: question, IsConfirm: true}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
