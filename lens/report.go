package lens

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-analyze/charts"
	"github.com/pmezard/go-difflib/difflib"
)

// CallReport is the json summary of a recorded call log.
type CallReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	CallCount   int            `json:"call_count"`
	SkipCount   int            `json:"skip_count"`
	Functions   []FunctionStat `json:"functions"`
	Lines       []string       `json:"lines"`
}

// FunctionStat is the per function section of a CallReport.
type FunctionStat struct {
	Ident     string `json:"ident"`
	Continued int    `json:"continued"`
	Skipped   int    `json:"skipped"`
}

// NewCallReport summarizes records.
func NewCallReport(records []CallRecord) CallReport {
	report := CallReport{
		GeneratedAt: time.Now(),
		CallCount:   len(records),
		Lines:       CallRecordLines(records),
	}
	for _, s := range Stats(records) {
		report.SkipCount += s.Skipped
		report.Functions = append(report.Functions, FunctionStat(s))
	}
	return report
}

// WriteToFile writes the report as indented json.
func (r CallReport) WriteToFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DiffCallLogs returns a unified diff of the flattened lines of two logs, empty when they match.
func DiffCallLogs(before, after []CallRecord) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        joinLines(CallRecordLines(before)),
		B:        joinLines(CallRecordLines(after)),
		FromFile: "before",
		ToFile:   "after",
		Context:  2,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func joinLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}

// RenderCallChart renders a stacked bar per function of continued and skipped calls. format is one of
// charts.ChartOutputPNG, charts.ChartOutputJPG or charts.ChartOutputSVG.
func RenderCallChart(stats []CallStats, format string) ([]byte, error) {
	if len(stats) == 0 {
		return nil, errors.New("no calls recorded")
	}
	continued := make([]float64, len(stats))
	skipped := make([]float64, len(stats))
	labels := make([]string, len(stats))
	var maxCalls int
	for i, s := range stats {
		continued[i] = float64(s.Continued)
		skipped[i] = float64(s.Skipped)
		labels[i] = shortIdent(s.Ident)
		maxCalls = max(maxCalls, s.Continued+s.Skipped)
	}

	opt := charts.NewHorizontalBarChartOptionWithData([][]float64{continued, skipped})
	opt.StackSeries = charts.Ptr(true)
	opt.Theme = charts.GetTheme(charts.ThemeLight).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			charts.ColorRed,
		})
	opt.Title.Text = "Intercepted Calls (continued / skipped)"
	opt.XAxis.Unit = axisUnitForMax(maxCalls)
	opt.YAxis.Labels = labels

	p := charts.NewPainter(charts.PainterOptions{
		OutputFormat: format,
		Width:        1024,
		Height:       max(256, 96+48*len(stats)),
	})
	if err := p.HorizontalBarChart(opt); err != nil {
		return nil, fmt.Errorf("error rendering chart: %w", err)
	}
	return p.Bytes()
}

// WriteCallChart renders the chart to path, the output format follows the file extension.
func WriteCallChart(path string, stats []CallStats) error {
	var format string
	if strings.HasSuffix(path, ".png") {
		format = charts.ChartOutputPNG
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		format = charts.ChartOutputJPG
	} else if strings.HasSuffix(path, ".svg") {
		format = charts.ChartOutputSVG
	} else {
		return fmt.Errorf("unhandled chart file type: %s", path)
	}

	buf, err := RenderCallChart(stats, format)
	if err != nil {
		return fmt.Errorf("render chart failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

func shortIdent(ident string) string {
	if index := strings.LastIndex(ident, "/"); index > 0 {
		return ident[index+1:]
	}
	return ident
}

func axisUnitForMax(val int) float64 {
	if val >= 8000 {
		return 2000
	} else if val > 2000 {
		return 1000
	} else if val >= 800 {
		return 200
	} else if val > 200 {
		return 100
	} else if val >= 80 {
		return 20
	} else if val > 20 {
		return 10
	} else if val >= 10 {
		return 2
	} else {
		return 1
	}
}
