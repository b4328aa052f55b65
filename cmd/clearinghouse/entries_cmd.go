package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Mindburn-Labs/clearinghouse/pkg/config"
	"github.com/Mindburn-Labs/clearinghouse/pkg/store/ledger"
)

func runEntriesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("entries", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		status     string
		bucket     string
		limit      int
		jsonOutput bool
	)
	cmd.StringVar(&status, "status", "", "Only entries with this status (processing, COMPLETED, FAILED)")
	cmd.StringVar(&bucket, "bucket", "", "Only entries of this bucket (default S3_BUCKET)")
	cmd.IntVar(&limit, "limit", 50, "Maximum number of entries")
	cmd.BoolVar(&jsonOutput, "json", false, "Output entries as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	st, ok := parseStatus(status)
	if !ok {
		_, _ = fmt.Fprintf(stderr, "Error: unknown status %q\n", status)
		return 2
	}

	return withLedger(stderr, func(ctx context.Context, cfg *config.Config, lgr *ledger.SQLLedger) int {
		if bucket == "" {
			bucket = cfg.Storage.Bucket
		}
		entries, err := lgr.List(ctx, ledger.Filter{Status: st, Bucket: bucket, Limit: limit})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}

		if jsonOutput {
			if entries == nil {
				entries = []ledger.Entry{}
			}
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(entries); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 1
			}
			return 0
		}

		if len(entries) == 0 {
			fmt.Fprintln(stdout, "No entries.")
			return 0
		}
		tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tKEY\tSIZE\tUPDATED\tERROR")
		for _, e := range entries {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
				e.ID, e.Status, e.Key, e.Size, e.UpdatedAt.UTC().Format(time.RFC3339), e.ErrorMessage)
		}
		_ = tw.Flush()
		return 0
	})
}

func runRequeueCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("requeue", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var key, bucket string
	cmd.StringVar(&key, "key", "", "Object key of the stuck entry (REQUIRED)")
	cmd.StringVar(&bucket, "bucket", "", "Bucket of the entry (default S3_BUCKET)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if key == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --key is required")
		return 2
	}

	return withLedger(stderr, func(ctx context.Context, cfg *config.Config, lgr *ledger.SQLLedger) int {
		if bucket == "" {
			bucket = cfg.Storage.Bucket
		}
		e, err := lgr.Requeue(ctx, bucket, key)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			_, _ = fmt.Fprintf(stderr, "Error: no entry for %s/%s\n", bucket, key)
			return 1
		case errors.Is(err, ledger.ErrNotProcessing):
			_, _ = fmt.Fprintf(stderr, "Error: entry %d is %s, only processing entries can be requeued\n", e.ID, e.Status)
			return 1
		case err != nil:
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Entry %d (%s/%s) marked %s; it will be retried after the next restart.\n", e.ID, e.Bucket, e.Key, e.Status)
		return 0
	})
}

func parseStatus(s string) (ledger.Status, bool) {
	switch {
	case s == "":
		return "", true
	case strings.EqualFold(s, string(ledger.StatusProcessing)):
		return ledger.StatusProcessing, true
	case strings.EqualFold(s, string(ledger.StatusCompleted)):
		return ledger.StatusCompleted, true
	case strings.EqualFold(s, string(ledger.StatusFailed)):
		return ledger.StatusFailed, true
	default:
		return "", false
	}
}

// withLedger loads configuration, opens the ledger and runs fn against it.
func withLedger(stderr io.Writer, fn func(context.Context, *config.Config, *ledger.SQLLedger) int) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	// Operator commands only surface warnings.
	logger := config.LogConfig{Level: "WARN", Format: cfg.Log.Format}.NewLogger(stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, lgr, err := openLedger(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	return fn(ctx, cfg, lgr)
}
