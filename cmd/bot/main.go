package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"noticebot/internal/app"
	"noticebot/pkg/systemd"
)

func main() {
	var (
		cfgPath  string
		scanOnce bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.BoolVar(&scanOnce, "scan-once", false, "run a single scan, print the report and exit")
	flag.Parse()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfgPath, app.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if scanOnce {
		go func() {
			<-sigCh
			cancel()
		}()
		os.Exit(runOnce(ctx, a))
	}

	log := a.Logger().Component("systemd")
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	systemd.Ready(log)
	systemd.Status(log, "running")
	go systemd.Watchdog(ctx, log, a.Healthy)

	var reason app.StopReason
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	cancel()

	systemd.Stopping(log)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stopped with error:", err)
		stopCancel()
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, a *app.App) int {
	defer func() { _ = a.Stop(context.Background(), app.StopScanOnce) }()
	rep, err := a.ScanOnce(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rep)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scan failed:", err)
		return 1
	}
	return 0
}
