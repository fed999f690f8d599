// Package main is a command-line watcher that reattaches to jobs left running
// by a previous session and resolves their placeholder items when they end.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/internal/client"
	"github.com/kiranshivaraju/scenarist/internal/config"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.LoadClient()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("watch failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, out io.Writer) error {
	api := client.New(cfg.ServerURL, client.WithAPIKey(cfg.APIKey))

	restorer := client.NewRestorer(api, func(types []models.JobType) {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		fmt.Fprintf(out, "resumed %d job(s): %s\n", len(types), strings.Join(names, ", "))
	})

	res, err := restorer.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}

	tracked := client.NewTracked()
	if restorer.Rearm(tracked, res) == 0 {
		fmt.Fprintln(out, "no jobs in flight")
		return nil
	}

	r := &resolver{api: api, out: out}
	poller := client.NewPoller(api, r.completed, r.failed, client.WithInterval(cfg.PollInterval))
	return poller.Run(ctx, tracked)
}

// resolver replaces a placeholder's content once its job ends.
type resolver struct {
	api *client.Client
	out io.Writer
}

func (r *resolver) completed(ctx context.Context, jobID uuid.UUID, info client.JobInfo, result string) {
	if r.resolve(ctx, jobID, info, result) {
		fmt.Fprintf(r.out, "completed %s -> %s %q\n", jobID, info.TargetTab, info.LoadingItem.Name)
	}
}

func (r *resolver) failed(ctx context.Context, jobID uuid.UUID, info client.JobInfo, msg string) {
	if r.resolve(ctx, jobID, info, client.ErrorContent(msg)) {
		fmt.Fprintf(r.out, "failed %s -> %s %q: %s\n", jobID, info.TargetTab, info.LoadingItem.Name, msg)
	}
}

func (r *resolver) resolve(ctx context.Context, jobID uuid.UUID, info client.JobInfo, content string) bool {
	loading := false
	_, err := r.api.UpdateItem(ctx, info.TargetTab, client.ItemPatch{
		ID:      info.ItemID,
		Content: &content,
		Loading: &loading,
	})
	if err != nil {
		slog.Error("failed to resolve placeholder",
			"job_id", jobID,
			"item_id", info.ItemID,
			"tab", info.TargetTab,
			"error", err,
		)
		return false
	}
	return true
}
