package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/siteforge/internal/audit"
	"github.com/jonathan/siteforge/internal/observability"
	"github.com/jonathan/siteforge/internal/types"
)

// progressPoll is how often the CLI reads new stage events.
const progressPoll = 200 * time.Millisecond

var auditJSON bool

var auditCmd = &cobra.Command{
	Use:   "audit <url>",
	Short: "Audit a website and print the findings",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Print the audit record as JSON")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	progressOut := out
	if auditJSON {
		progressOut = cmd.ErrOrStderr()
	}
	job, err := runAuditWithProgress(ctx, a.audits, args[0], observability.NewPrinter(progressOut))
	if err != nil {
		return err
	}
	return printAudit(out, job, auditJSON)
}

// runAuditWithProgress starts an audit, prints each stage event as it
// arrives and returns the persisted record once the audit has finished.
func runAuditWithProgress(ctx context.Context, svc *audit.Service, rawURL string, printer *observability.Printer) (*types.AuditJob, error) {
	job, err := svc.Start(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(progressPoll)
	defer ticker.Stop()
	cursor := 0
	for {
		page, err := svc.Events(ctx, job.ID, cursor)
		if err != nil {
			return nil, err
		}
		for _, ev := range page.Events {
			printer.PrintStageEvent(ev)
		}
		cursor = page.Cursor
		if page.Complete {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	svc.Wait()
	return svc.Get(context.WithoutCancel(ctx), job.ID)
}

func printAudit(out io.Writer, job *types.AuditJob, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}
	if _, err := fmt.Fprintln(out); err != nil {
		return err
	}
	observability.NewPrinter(out).PrintAudit(job)
	return nil
}
