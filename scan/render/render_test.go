package render

import (
	"bytes"
	"image/png"
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/plot/vg"

	"github.com/celskeggs/scanmx/scan/plotdata"
)

func TestLinePlotRenders(t *testing.T) {
	p := plotdata.NewLine([]float64{0, 5, 10})
	for i, v := range []float64{10, 20} {
		p.Set(i, v)
		p.UpdateIncremental(v)
	}
	out, err := Build(p, Options{Title: "sim:det", XLabel: "sim:m1"})
	if err != nil {
		t.Fatal(err)
	}
	if out.X.Min != 0 || out.X.Max != 10 {
		t.Errorf("x extent %v ... %v", out.X.Min, out.X.Max)
	}
	if out.Y.Min != 10 || out.Y.Max != 20 {
		t.Errorf("y extent %v ... %v", out.Y.Min, out.Y.Max)
	}
	var buf bytes.Buffer
	if err := WritePlot(out, 4*vg.Inch, 3*vg.Inch, &buf, "png"); err != nil {
		t.Fatal(err)
	}
	if _, err := png.Decode(&buf); err != nil {
		t.Errorf("output is not a PNG: %v", err)
	}
}

func TestEmptyAndLogLines(t *testing.T) {
	p := plotdata.NewLine([]float64{1, 2, 3})
	if _, err := Build(p, Options{}); err != nil {
		t.Errorf("empty line: %v", err)
	}
	for i, v := range []float64{-1, 10, 100} {
		p.Set(i, v)
		p.UpdateIncremental(v)
	}
	p.SetLogarithmic(true)
	out, err := Build(p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Y.Min != 100/1e10 || out.Y.Max != 100 {
		t.Errorf("log extent %v ... %v", out.Y.Min, out.Y.Max)
	}
	Image(out, 3*vg.Inch, 2*vg.Inch, 72)
}

func TestHeatMapHandlesReversedAxesAndHoles(t *testing.T) {
	p := plotdata.NewMap(plotdata.Raster{XStart: 4, XEnd: 0, YStart: 0, YEnd: 2, Width: 5, Height: 3})
	for i := 0; i < 7; i++ {
		p.Set(i, float64(i))
		p.UpdateIncremental(float64(i))
	}
	g := newRasterGrid(p)
	if g.X(0) != 0 || g.X(4) != 4 {
		t.Errorf("columns not reordered: %v %v", g.X(0), g.X(4))
	}
	if g.Z(4, 0) != 0 || g.Z(0, 0) != 4 {
		t.Errorf("values not reordered: %v %v", g.Z(4, 0), g.Z(0, 0))
	}
	if !math.IsNaN(g.Z(0, 2)) {
		t.Errorf("unmeasured cell %v", g.Z(0, 2))
	}
	out, err := Build(p, Options{Title: "map"})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "map.png")
	if err := SavePlot(out, 4*vg.Inch, 4*vg.Inch, path, "png"); err != nil {
		t.Fatal(err)
	}

	w, h := 4*vg.Inch, 4*vg.Inch
	img := Image(out, w, h, 72)
	if img.Bounds().Dx() != 288 {
		t.Errorf("image width %d", img.Bounds().Dx())
	}
	x, y, ok := Locate(out, w, h, vg.Point{X: w / 2, Y: h / 2})
	if !ok || x < out.X.Min || x > out.X.Max || y < out.Y.Min || y > out.Y.Max {
		t.Errorf("centre located at (%v, %v), %v", x, y, ok)
	}
	if _, _, ok := Locate(out, w, h, vg.Point{X: 1, Y: 1}); ok {
		t.Error("corner should lie outside the data area")
	}
}

func TestDegenerateColorDomains(t *testing.T) {
	p := plotdata.NewMap(plotdata.Raster{XStart: 0, XEnd: 1, YStart: 0, YEnd: 1, Width: 2, Height: 2})
	if iv := colorDomain(p, plotdata.DisplayRange{}); iv != (plotdata.Interval{Min: -1, Max: 1}) {
		t.Errorf("empty linear domain %v", iv)
	}
	p.Set(0, -5)
	p.UpdateIncremental(-5)
	if iv := colorDomain(p, plotdata.DisplayRange{}); iv.Min >= iv.Max {
		t.Errorf("constant negative domain %v", iv)
	}
	p.SetLogarithmic(true)
	if iv := colorDomain(p, plotdata.DisplayRange{}); iv != (plotdata.Interval{Min: 0, Max: 1}) {
		t.Errorf("non-positive log domain %v", iv)
	}
	if _, err := Build(p, Options{}); err != nil {
		t.Error(err)
	}
}
