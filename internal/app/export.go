package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"roundtrip-arb-alerts/internal/storage"
)

// Export renders historical cycle samples as CSV and/or a PNG profit chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, opts.Route, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.CycleSample, max int) []storage.CycleSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.CycleSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.CycleSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"started_at", "route", "input", "forward_label", "forward_amount", "return_label", "return_amount", "profit", "profit_pct", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = *sample.Error
		}
		record := []string{
			sample.StartedAt.UTC().Format(time.RFC3339),
			sample.Route,
			sample.Input.String(),
			sample.ForwardLabel,
			sample.ForwardAmount.String(),
			sample.ReturnLabel,
			sample.ReturnAmount.String(),
			sample.Profit.String(),
			sample.ProfitPct.String(),
			sample.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeSamplesPNG plots profit per route; failed cycles are left out.
func writeSamplesPNG(path string, samples []storage.CycleSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	type points struct {
		x []time.Time
		y []float64
	}
	byRoute := make(map[string]*points)
	for _, sample := range samples {
		if sample.Status != storage.StatusOK {
			continue
		}
		p, ok := byRoute[sample.Route]
		if !ok {
			p = &points{}
			byRoute[sample.Route] = p
		}
		p.x = append(p.x, sample.StartedAt)
		p.y = append(p.y, sample.Profit.InexactFloat64())
	}
	if len(byRoute) == 0 {
		return errors.New("no successful cycles to plot")
	}

	names := make([]string, 0, len(byRoute))
	for name := range byRoute {
		names = append(names, name)
	}
	sort.Strings(names)

	series := make([]chart.Series, 0, len(names))
	for _, name := range names {
		p := byRoute[name]
		if len(p.x) == 1 {
			// go-chart needs two points to draw a range
			p.x = append(p.x, p.x[0].Add(time.Second))
			p.y = append(p.y, p.y[0])
		}
		series = append(series, chart.TimeSeries{Name: name, XValues: p.x, YValues: p.y})
	}

	profitFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.6f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Round-trip profit",
			ValueFormatter: profitFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
