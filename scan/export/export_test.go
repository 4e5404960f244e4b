package export

import (
	"bytes"
	"io"
	"log"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/celskeggs/scanmx/scan/axis"
	"github.com/celskeggs/scanmx/scan/engine"
	"github.com/celskeggs/scanmx/scan/plotdata"
	"github.com/celskeggs/scanmx/sim/component"
	"github.com/celskeggs/scanmx/sim/detector"
	"github.com/celskeggs/scanmx/sim/model"
	"github.com/celskeggs/scanmx/sim/motor"
)

func TestWriteTable(t *testing.T) {
	table := FromRows([]string{"sim:a", "sim:b"}, []engine.Row{
		{Index: 0, X: []float64{0}, Y: []float64{1}, Values: []float64{1.5, math.NaN()}},
		{Index: 1, X: []float64{0.5}, Y: []float64{1}, Values: []float64{2}},
	})
	var buf bytes.Buffer
	if err := WriteTable(&buf, table); err != nil {
		t.Fatal(err)
	}
	want := "X Y sim:a sim:b\n0 1 1.5 NaN\n0.5 1 2 NaN\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func recordScan(t *testing.T, twoD bool) string {
	sim := component.MakeSimControllerSeeded(5)
	e := engine.MakeEngine(sim, log.New(io.Discard, "", 0))
	mx := motor.Config{PV: "sim:mx", Velocity: 5}.Construct(sim)
	my := motor.Config{PV: "sim:my", Velocity: 5}.Construct(sim)
	det := detector.Config{PV: "sim:det", Period: 10 * time.Millisecond, Inputs: []axis.Positioner{mx, my}}.Construct(sim)
	out := filepath.Join(t.TempDir(), "scan.dat")
	cfg := engine.Config{
		X:          []engine.Axis{{Device: mx, Spec: axis.Spec{Start: -1, End: 1, Points: 5, Mode: axis.Absolute}}},
		Signals:    []*engine.Signal{engine.NewSignal(1, det)},
		OutputPath: out,
	}
	if twoD {
		cfg.Y = []engine.Axis{{Device: my, Spec: axis.Spec{Start: 0, End: 1, Points: 3, Mode: axis.Absolute}}}
	}
	if err := e.Start(cfg); err != nil {
		t.Fatal(err)
	}
	if !sim.RunUntil(model.TimeZero.Add(time.Hour), func() bool { return e.State() == engine.Done }) {
		t.Fatal("scan did not finish")
	}
	return out
}

func TestReadLineRecord(t *testing.T) {
	df, err := ReadDataFileAt(recordScan(t, false))
	if err != nil {
		t.Fatal(err)
	}
	if df.TwoD || df.XPoints != 5 || len(df.Data) != 5 || !df.Complete {
		t.Errorf("parsed %+v", df)
	}
	if got := strings.Join(df.Signals(), ","); got != "sim:det" {
		t.Errorf("signals %q", got)
	}
	if df.XRange != (plotdata.Interval{Min: -1, Max: 1}) {
		t.Errorf("x range %v", df.XRange)
	}
	p, err := df.Plot(0)
	if err != nil {
		t.Fatal(err)
	}
	if p.Visible() != 5 {
		t.Errorf("replot shows %d points", p.Visible())
	}
	// the detector peaks at the origin, the middle of the scan
	if p.At(2) < p.At(0) || p.At(2) < p.At(4) {
		t.Errorf("peak not in the middle: %v %v %v", p.At(0), p.At(2), p.At(4))
	}
}

func TestReadMapRecordAndExport(t *testing.T) {
	path := recordScan(t, true)
	df, err := ReadDataFileAt(path)
	if err != nil {
		t.Fatal(err)
	}
	if !df.TwoD || df.XPoints != 5 || df.YPoints != 3 || df.XAxes != 1 || df.YAxes != 1 {
		t.Fatalf("parsed %+v", df)
	}
	p, err := df.Plot(0)
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := p.Raster(); !ok || r.Size() != 15 {
		t.Errorf("raster %+v", r)
	}
	if math.IsNaN(p.ValueAt(1, 1)) {
		t.Error("corner cell missing")
	}
	out := TablePath(path)
	if err := SaveTable(out, df.Table()); err != nil {
		t.Fatal(err)
	}
	back, err := ReadDataFileAt(out)
	if err == nil {
		t.Errorf("a table without a legend parsed as a record: %+v", back)
	}
}

func TestReadRejectsMalformedLines(t *testing.T) {
	input := "# Data columns:\n# %Point %m %d\n1 0.5\n"
	if _, err := ReadDataFile(strings.NewReader(input)); err == nil {
		t.Error("short line accepted")
	}
}

func TestOutputPaths(t *testing.T) {
	if p := TablePath("/data/scan_1.dat"); p != "/data/scan_1.dat_table.dat" {
		t.Errorf("table path %s", p)
	}
	if p := PlotPath("/data/scan_1.dat", "sim:det", "png"); p != "/data/scan_1_sim_det.png" {
		t.Errorf("plot path %s", p)
	}
	if p := PlotPath("/data/run", "a/b c", "svg"); p != "/data/run_a_b_c.svg" {
		t.Errorf("plot path %s", p)
	}
}
