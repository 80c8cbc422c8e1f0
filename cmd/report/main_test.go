package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempCSV(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(rows), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestReadCSVAndExtractSeries(t *testing.T) {
	path := writeTempCSV(t, "timestamp,angle_roll,angle_pitch\n1.0,10.5,-3.2\n2.0,11.0,-3.1\n")

	header, rows, err := readCSV(path)
	if err != nil {
		t.Fatalf("readCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	cols, err := extractSeries(header, rows)
	if err != nil {
		t.Fatalf("extractSeries: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("len(cols) = %d, want 2", len(cols))
	}
	if cols[0].name != "angle_roll" || cols[1].name != "angle_pitch" {
		t.Fatalf("unexpected column names: %+v", cols)
	}
	if len(cols[0].x) != 2 || cols[0].y[0] != 10.5 || cols[0].y[1] != 11.0 {
		t.Errorf("angle_roll series = %+v, want [10.5 11.0]", cols[0])
	}
	if cols[1].y[0] != -3.2 {
		t.Errorf("angle_pitch[0] = %v, want -3.2", cols[1].y[0])
	}
}

func TestExtractSeriesRequiresLeadingTimestampColumn(t *testing.T) {
	_, err := extractSeries([]string{"roll", "pitch"}, [][]string{{"1", "2"}})
	if err == nil {
		t.Fatal("expected an error for a header without a leading timestamp column")
	}
}

func TestExtractSeriesSkipsUnparseableRows(t *testing.T) {
	header := []string{"timestamp", "value"}
	rows := [][]string{{"1.0", "2.0"}, {"not-a-number", "3.0"}, {"2.0", "also-bad"}, {"3.0", "4.0"}}

	cols, err := extractSeries(header, rows)
	if err != nil {
		t.Fatalf("extractSeries: %v", err)
	}
	if len(cols) != 1 {
		t.Fatalf("len(cols) = %d, want 1", len(cols))
	}
	if len(cols[0].y) != 2 {
		t.Fatalf("expected 2 valid rows to survive, got %d: %+v", len(cols[0].y), cols[0])
	}
	if cols[0].y[0] != 2.0 || cols[0].y[1] != 4.0 {
		t.Errorf("values = %+v, want [2.0 4.0]", cols[0].y)
	}
}

func TestGenerateColorsReturnsDistinctColors(t *testing.T) {
	colors := generateColors(4)
	if len(colors) != 4 {
		t.Fatalf("len(colors) = %d, want 4", len(colors))
	}
	seen := make(map[color2]bool)
	for _, c := range colors {
		r, g, b, _ := c.RGBA()
		key := color2{r, g, b}
		if seen[key] {
			t.Errorf("duplicate color generated: %+v", key)
		}
		seen[key] = true
	}
}

type color2 struct{ r, g, b uint32 }

func TestGenerateColorsHandlesZero(t *testing.T) {
	if colors := generateColors(0); colors != nil {
		t.Errorf("generateColors(0) = %v, want nil", colors)
	}
}

func TestRenderPNGAndHTML(t *testing.T) {
	cols := []series{
		{name: "angle_roll", x: []float64{1, 2, 3}, y: []float64{10, 11, 12}},
		{name: "angle_pitch", x: []float64{1, 2, 3}, y: []float64{-1, -2, -3}},
	}

	dir := t.TempDir()
	pngPath := filepath.Join(dir, "out.png")
	if err := renderPNG("test", cols, pngPath); err != nil {
		t.Fatalf("renderPNG: %v", err)
	}
	if info, err := os.Stat(pngPath); err != nil || info.Size() == 0 {
		t.Errorf("expected a non-empty PNG at %s", pngPath)
	}

	htmlPath := filepath.Join(dir, "out.html")
	if err := renderHTML("test", cols, htmlPath); err != nil {
		t.Fatalf("renderHTML: %v", err)
	}
	if info, err := os.Stat(htmlPath); err != nil || info.Size() == 0 {
		t.Errorf("expected a non-empty HTML file at %s", htmlPath)
	}
}
