// Command report renders an offline PNG + HTML visualization of one
// rotated CSV file produced by internal/storage.RotatingCsvSink — the raw
// ANGLE sink, the processed-motion sink, or the GPS speed sink. It reads
// no live state; it only needs a path to a CSV already on disk.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	csvPath = flag.String("csv", "", "path to a rotated CSV file to visualize (required)")
	outDir  = flag.String("out", "", "output directory for the PNG/HTML report (default: alongside the CSV)")
)

func main() {
	flag.Parse()
	if *csvPath == "" {
		log.Fatal("-csv is required")
	}

	out := *outDir
	if out == "" {
		out = filepath.Dir(*csvPath)
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		log.Fatalf("failed to create output dir %s: %v", out, err)
	}

	header, rows, err := readCSV(*csvPath)
	if err != nil {
		log.Fatalf("failed to read %s: %v", *csvPath, err)
	}

	cols, err := extractSeries(header, rows)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if len(cols) == 0 {
		log.Fatalf("%s has no plottable columns", *csvPath)
	}

	base := strings.TrimSuffix(filepath.Base(*csvPath), filepath.Ext(*csvPath))
	title := fmt.Sprintf("%s (%d rows)", filepath.Base(*csvPath), len(rows))

	pngPath := filepath.Join(out, base+"_report.png")
	if err := renderPNG(title, cols, pngPath); err != nil {
		log.Fatalf("failed to render PNG: %v", err)
	}

	htmlPath := filepath.Join(out, base+"_report.html")
	if err := renderHTML(title, cols, htmlPath); err != nil {
		log.Fatalf("failed to render HTML: %v", err)
	}

	log.Printf("wrote %s and %s", pngPath, htmlPath)
}

// series is one plotted column: a name and its (timestamp, value) pairs,
// in row order.
type series struct {
	name string
	x, y []float64
}

func readCSV(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("empty CSV")
	}
	return all[0], all[1:], nil
}

// extractSeries turns CSV rows into one series per non-timestamp column,
// skipping rows with unparseable values rather than failing outright —
// a rotated file's header is trusted, but the spec's rotation boundary
// can still leave a partially-written last line.
func extractSeries(header []string, rows [][]string) ([]series, error) {
	if len(header) < 2 || header[0] != "timestamp" {
		return nil, fmt.Errorf("expected a leading timestamp column, got %v", header)
	}

	cols := make([]series, len(header)-1)
	for i, name := range header[1:] {
		cols[i].name = name
	}

	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		ts, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			continue
		}
		for i := 1; i < len(row) && i-1 < len(cols); i++ {
			v, err := strconv.ParseFloat(row[i], 64)
			if err != nil {
				continue
			}
			cols[i-1].x = append(cols[i-1].x, ts)
			cols[i-1].y = append(cols[i-1].y, v)
		}
	}
	return cols, nil
}

// renderPNG draws every column as a colored line on one time-series plot.
func renderPNG(title string, cols []series, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (unix seconds)"
	p.Y.Label.Text = "Value"
	p.Legend.Top = true
	p.Legend.Left = false

	colors := generateColors(len(cols))
	for i, col := range cols {
		if len(col.x) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(col.x))
		for j := range col.x {
			pts[j].X = col.x[j]
			pts[j].Y = col.y[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("column %q: %w", col.name, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(col.name, line)
	}

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

// renderHTML draws the same columns as an interactive go-echarts line
// chart, letting a viewer zoom into a window the static PNG can't.
func renderHTML(title string, cols []series, path string) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	var xAxis []string
	for i, col := range cols {
		if i == 0 {
			xAxis = make([]string, len(col.x))
			for j, ts := range col.x {
				xAxis[j] = strconv.FormatFloat(ts, 'f', 3, 64)
			}
		}
		data := make([]opts.LineData, len(col.y))
		for j, v := range col.y {
			data[j] = opts.LineData{Value: v}
		}
		line.AddSeries(col.name, data)
	}
	line.SetXAxis(xAxis)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return line.Render(f)
}

// generateColors builds a palette of n visually distinct line colors by
// spreading hues evenly around the color wheel.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	default:
		return p
	}
}
