package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"roundtrip-arb-alerts/internal/storage"
)

// Show prints recent cycle samples or alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stdout, "no alerts found")
			return nil
		}
		printAlerts(os.Stdout, alerts)
		return nil
	}

	samples, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}
	printSamples(os.Stdout, samples)
	return nil
}

func printSamples(out io.Writer, samples []storage.CycleSample) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRoute\tForward\tReturn\tProfit\tProfit%\tStatus\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.StartedAt.UTC().Format(time.RFC3339),
			sample.Route,
			sample.ForwardLabel,
			sample.ReturnLabel,
			formatDecimal(sample.Profit, 6),
			formatDecimal(sample.ProfitPct, 3),
			sample.Status,
			errMsg,
		)
	}

	writer.Flush()
}

func printAlerts(out io.Writer, alerts []storage.AlertRecord) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRoute\tPair\tProfit\tThreshold\tSeverity\tDelivered")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s->%s\t%s\t%s\t%s\t%d\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Route,
			alert.ForwardLabel,
			alert.ReturnLabel,
			formatDecimal(alert.Profit, 6),
			alert.Threshold.String(),
			alert.Severity,
			alert.Delivered,
		)
	}

	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
