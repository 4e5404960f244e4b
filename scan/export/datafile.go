package export

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/celskeggs/scanmx/scan/engine"
	"github.com/celskeggs/scanmx/scan/plotdata"
)

// DataFile is a parsed record file.
type DataFile struct {
	Header      []string
	Annotations []string
	TwoD        bool
	XPoints     int
	YPoints     int
	XRange      plotdata.Interval
	YRange      plotdata.Interval
	// Columns are the legend names without their % marks: point, X axes, Y axes, signals.
	Columns  []string
	XAxes    int
	YAxes    int
	Points   []int
	Data     [][]float64
	Complete bool
	Finished bool
}

func ReadDataFileAt(path string) (*DataFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDataFile(f)
}

func parseRange(s string) (plotdata.Interval, bool) {
	parts := strings.SplitN(s, "...", 2)
	if len(parts) != 2 {
		return plotdata.Interval{}, false
	}
	lo, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	hi, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	return plotdata.Interval{Min: lo, Max: hi}, err1 == nil && err2 == nil
}

func (df *DataFile) readComment(text string, legendNext *bool) {
	body := strings.TrimSpace(strings.TrimPrefix(text, "#"))
	switch {
	case *legendNext:
		*legendNext = false
		for _, f := range strings.Fields(body) {
			df.Columns = append(df.Columns, strings.TrimPrefix(f, "%"))
		}
	case body == "Data columns:":
		*legendNext = true
	case body == "2D scan":
		df.TwoD = true
	case body == "All done.":
		df.Finished, df.Complete = true, true
	case body == "Stopped unfinished.":
		df.Finished = true
	case strings.HasSuffix(body, ": limit hit."):
		df.Annotations = append(df.Annotations, body)
		return
	case strings.HasPrefix(body, "Number of data points:"):
		// derived from the axis counts
	case strings.HasPrefix(body, "Number of X axis points:"):
		df.XPoints, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(body, "Number of X axis points:")))
	case strings.HasPrefix(body, "Number of Y axis points:"):
		df.YPoints, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(body, "Number of Y axis points:")))
	case strings.HasPrefix(body, "X axis PV:"):
		df.XAxes++
	case strings.HasPrefix(body, "Y axis PV:"):
		df.YAxes++
	case strings.Contains(body, "scan range:"):
		iv, ok := parseRange(body[strings.Index(body, "scan range:")+len("scan range:"):])
		if ok && strings.HasPrefix(body, "X axis") && df.XAxes == 1 {
			df.XRange = iv
		} else if ok && strings.HasPrefix(body, "Y axis") && df.YAxes == 1 {
			df.YRange = iv
		}
	}
	if !df.Finished {
		df.Header = append(df.Header, text)
	}
}

// ReadDataFile parses a record file as written by the scan engine.
func ReadDataFile(r io.Reader) (*DataFile, error) {
	df := &DataFile{}
	scanner := bufio.NewScanner(r)
	legendNext := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			df.readComment(text, &legendNext)
			continue
		}
		fields := strings.Fields(text)
		if len(df.Columns) > 0 && len(fields) != len(df.Columns) {
			return nil, fmt.Errorf("line %d: %d fields for %d columns", lineNo, len(fields), len(df.Columns))
		}
		point, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad point number: %v", lineNo, err)
		}
		values := make([]float64, len(fields)-1)
		for i, f := range fields[1:] {
			if values[i], err = strconv.ParseFloat(f, 64); err != nil {
				return nil, fmt.Errorf("line %d: %v", lineNo, err)
			}
		}
		df.Points = append(df.Points, point)
		df.Data = append(df.Data, values)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(df.Columns) == 0 {
		return nil, fmt.Errorf("%w: no column legend", engine.ErrInvalidConfiguration)
	}
	if !df.TwoD {
		df.YPoints = 1
		if df.XPoints == 0 {
			df.XPoints = df.totalFromHeader()
		}
	}
	return df, nil
}

func (df *DataFile) totalFromHeader() int {
	for _, h := range df.Header {
		body := strings.TrimSpace(strings.TrimPrefix(h, "#"))
		if strings.HasPrefix(body, "Number of data points:") {
			n, _ := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(body, "Number of data points:")))
			return n
		}
	}
	return len(df.Data)
}

// Signals names the signal columns.
func (df *DataFile) Signals() []string {
	return df.Columns[1+df.XAxes+df.YAxes:]
}

// Table is the export table of the recorded points.
func (df *DataFile) Table() Table {
	rows := make([]engine.Row, len(df.Data))
	for i, d := range df.Data {
		rows[i] = engine.Row{
			Index:  df.Points[i] - 1,
			X:      d[:df.XAxes],
			Y:      d[df.XAxes : df.XAxes+df.YAxes],
			Values: d[df.XAxes+df.YAxes:],
		}
	}
	return FromRows(df.Signals(), rows)
}

// Plot rebuilds the plot of one signal column.
func (df *DataFile) Plot(signal int) (*plotdata.Plot, error) {
	if signal < 0 || signal >= len(df.Signals()) {
		return nil, fmt.Errorf("no signal column %d", signal)
	}
	col := df.XAxes + df.YAxes + signal
	var p *plotdata.Plot
	if df.TwoD {
		if df.XPoints < 1 || df.YPoints < 1 {
			return nil, fmt.Errorf("%w: 2D record without point counts", engine.ErrInvalidConfiguration)
		}
		p = plotdata.NewMap(plotdata.Raster{
			XStart: df.XRange.Min, XEnd: df.XRange.Max,
			YStart: df.YRange.Min, YEnd: df.YRange.Max,
			Width: df.XPoints, Height: df.YPoints,
		})
	} else {
		if df.XPoints < 1 {
			return nil, fmt.Errorf("%w: empty record", engine.ErrInvalidConfiguration)
		}
		xs := make([]float64, df.XPoints)
		for i := range xs {
			xs[i] = math.NaN()
		}
		for i, d := range df.Data {
			if idx := df.Points[i] - 1; idx >= 0 && idx < len(xs) && df.XAxes > 0 {
				xs[idx] = d[0]
			}
		}
		p = plotdata.NewLine(fillAbscissa(xs, df.XRange))
	}
	for i, d := range df.Data {
		p.Set(df.Points[i]-1, d[col])
	}
	p.UpdateFull()
	return p, nil
}

// fillAbscissa replaces the positions of unrecorded points by the nominal grid.
func fillAbscissa(xs []float64, r plotdata.Interval) []float64 {
	n := len(xs)
	for i, x := range xs {
		if !math.IsNaN(x) {
			continue
		}
		if n == 1 {
			xs[i] = r.Min
		} else {
			xs[i] = r.Min + float64(i)*(r.Max-r.Min)/float64(n-1)
		}
	}
	return xs
}
