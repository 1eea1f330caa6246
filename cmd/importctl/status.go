package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dharsanguruparan/CatalogImport/internal/app"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

const nextPendingShown = 5

func printStatus(ctx context.Context, w io.Writer, svc *app.Services, detailed bool, recent time.Duration) error {
	stats, err := svc.Manager.QueueStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Import queue")
	fmt.Fprintf(w, "  pending:    %d\n", stats.Pending)
	fmt.Fprintf(w, "  processing: %d\n", stats.Processing)
	fmt.Fprintf(w, "  completed:  %d\n", stats.Completed)
	fmt.Fprintf(w, "  failed:     %d\n", stats.Failed)
	fmt.Fprintf(w, "  cancelled:  %d\n", stats.Cancelled)
	fmt.Fprintf(w, "  total:      %d\n", stats.Total)

	now := svc.Queue.Now()
	current, err := svc.Queue.Processing(ctx)
	if err != nil {
		return err
	}
	if current != nil {
		elapsed, _ := current.ProcessingTime(now)
		fmt.Fprintf(w, "\nProcessing: %s (dataset %s, running %s)\n",
			current.ID, current.DatasetID, elapsed.Round(time.Second))
	} else {
		fmt.Fprintln(w, "\nProcessing: none")
	}

	next, err := svc.Queue.Pending(ctx, nextPendingShown)
	if err != nil {
		return err
	}
	if len(next) > 0 {
		fmt.Fprintln(w, "\nNext in queue:")
		for i, req := range next {
			fmt.Fprintf(w, "  %d. %s dataset %s [%s] queued %s\n",
				i+1, req.ID, req.DatasetID, req.Priority, req.CreatedAt.Format(time.RFC3339))
		}
	}

	if !detailed {
		return nil
	}
	entries, err := svc.Queue.List(ctx, queue.ListFilter{Since: now.Add(-recent)})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nRecent imports (last %s):\n", recent)
	if len(entries) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, req := range entries {
		fmt.Fprintf(w, "  %s dataset %s %s", req.ID, req.DatasetID, req.Status)
		if d, ok := req.ProcessingTime(now); ok && req.Status != model.StatusPending {
			fmt.Fprintf(w, " in %s", d.Round(time.Millisecond))
		}
		fmt.Fprintln(w)
		if req.ErrorMessage != "" {
			fmt.Fprintf(w, "    error: %s\n", req.ErrorMessage)
		}
	}
	return nil
}
