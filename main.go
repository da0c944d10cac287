package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	gspt "github.com/erikdubbelboer/gspt"
	"golang.org/x/term"

	"mpy-sync/cmd"
	"mpy-sync/internal/config"
	"mpy-sync/internal/events"
	"mpy-sync/internal/util"
)

// truncateToBytes truncates s to at most max bytes without splitting UTF-8 runes.
func truncateToBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	var b []byte
	for _, r := range s {
		rb := []byte(string(r))
		if len(b)+len(rb) > max {
			break
		}
		b = append(b, rb...)
	}
	if len(b) == 0 {
		return s[:max]
	}
	return string(b)
}

// setupLogging sends the standard logger to .mpy_sync/logs/mpy-sync.log
// under the project root, or discards it outside a project.
func setupLogging() func() {
	wd, _ := os.Getwd()
	root := config.FindProjectRoot(wd)
	if _, err := os.Stat(filepath.Join(root, config.ConfigFileName)); err != nil {
		log.SetOutput(io.Discard)
		return func() {}
	}

	logDir := filepath.Join(root, config.StateDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Fatalf("failed to create %s directory: %v", logDir, err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "mpy-sync.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	log.SetOutput(f)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return func() { f.Close() }
}

func main() {
	closeLog := setupLogging()
	defer closeLog()

	// Process title: project_name from mpy-sync.yaml, then PROC_TITLE, then "mpy-sync".
	var procTitle string
	if cfg, err := config.LoadAndValidateConfig(); err == nil && cfg.ProjectName != "" {
		procTitle = cfg.ProjectName
	} else if t := os.Getenv("PROC_TITLE"); t != "" {
		procTitle = t
	} else {
		procTitle = "mpy-sync"
	}
	procTitle = strings.Join(strings.Fields(procTitle), "-")
	// PR_SET_NAME (Linux comm) is limited to 16 bytes including NUL.
	procTitle = truncateToBytes(procTitle, 15)
	gspt.SetProcTitle(procTitle)

	// Capture the terminal state so a forced exit can restore it.
	var origState *term.State
	if term.IsTerminal(int(os.Stdin.Fd())) {
		if st, err := term.GetState(int(os.Stdin.Fd())); err == nil {
			origState = st
		}
	}
	restoreTerm := func() {
		if origState != nil {
			_ = term.Restore(int(os.Stdin.Fd()), origState)
		}
	}
	forceExit := func(code int) {
		restoreTerm()
		os.Exit(code)
	}

	// Context used to issue graceful cancellation to command tree.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	shutdown := make(chan struct{})
	events.GlobalBus.Subscribe(events.EventShutdownRequested, func(reason string) {
		log.Printf("shutdown requested: %s", reason)
		cancel()
		once.Do(func() { close(shutdown) })
	})

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigs {
			events.GlobalBus.Publish(events.EventShutdownRequested, sig.String())
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- cmd.ExecuteContext(ctx)
	}()

	var runErr error
	select {
	case runErr = <-done:
		log.Println("command finished")
	case <-shutdown:
		// Commands refresh the device tree before returning; give them time.
		select {
		case runErr = <-done:
			log.Println("command exited cleanly after shutdown request")
		case <-time.After(10 * time.Second):
			log.Println("timeout waiting for command after shutdown request, forcing exit")
			forceExit(1)
		}
	}
	signal.Stop(sigs)
	events.GlobalBus.Publish(events.EventShutdownComplete)
	util.Default.ClearLine()
	restoreTerm()

	if runErr != nil {
		os.Exit(1)
	}
}
