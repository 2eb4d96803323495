package util

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

// SetupInterruptHandler cancels the returned context on the first SIGINT or
// SIGTERM so the walker can stop at its next suspension point. A second
// signal exits immediately.
func SetupInterruptHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sig:
		case <-ctx.Done():
			signal.Stop(sig)
			return
		}

		fmt.Println("\nInterrupt received. Stopping after the current step, the last checkpoint stays valid...")
		cancel()

		<-sig
		fmt.Println("\nExiting due to second interrupt.")
		os.Exit(1)
	}()

	return ctx, func() {
		signal.Stop(sig)
		cancel()
	}
}

// RemoveFiles deletes every listed file and reports how many were removed.
// Missing files are not an error.
func RemoveFiles(files []string) (int, error) {
	removed := 0
	for _, f := range files {
		if f == "" {
			continue
		}
		err := os.Remove(f)
		if err == nil {
			removed++
			continue
		}
		if !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", f, err)
		}
	}
	return removed, nil
}

// ClearDir removes every entry of dir, keeping dir itself.
func ClearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
	}
	return nil
}

func statFile(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}
