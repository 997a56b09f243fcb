package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"roundtrip-arb-alerts/internal/service"
)

// Check evaluates every route once and prints the outcome without alerting or persisting.
func (a *App) Check(ctx context.Context) error {
	if err := a.Config.RequireWallets(); err != nil {
		return err
	}

	routes, err := a.buildRoutes(a.newFetchers(a.newHTTPClient()))
	if err != nil {
		return err
	}

	svc := service.New(service.Options{Routes: routes}, service.Deps{Evaluator: a.newEvaluator()}, a.Logger)
	printOutcomes(os.Stdout, svc.Check(ctx))
	return nil
}

func printOutcomes(out io.Writer, outcomes []service.Outcome) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Route\tForward\tMid\tReturn\tOutput\tProfit\tProfit%\tWould alert\tError")

	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(writer, "%s\t-\t-\t-\t-\t-\t-\t-\t%s\n", o.Route, sanitizeInline(o.Err.Error()))
			continue
		}
		r := o.Result
		alert := "-"
		if o.Decision != nil {
			alert = "no (" + o.Decision.Reason + ")"
			if o.Decision.Notify {
				alert = "yes (" + string(o.Decision.Severity) + ")"
			}
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s %s\t%s\t%s %s\t%s\t%s\t%s\t\n",
			o.Route,
			r.Forward.Selected.Label,
			formatDecimal(r.Forward.Amount, 6), r.MidSymbol,
			r.Return.Selected.Label,
			formatDecimal(r.Return.Amount, 6), r.HomeSymbol,
			formatDecimal(r.Profit, 6),
			formatDecimal(r.ProfitPct, 3),
			alert,
		)
	}

	writer.Flush()
}
