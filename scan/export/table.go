// Package export turns scan results into whitespace-separated tables for other plotting tools, and reads
// record files back in.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/celskeggs/scanmx/scan/engine"
)

type Table struct {
	Columns []string
	Rows    [][]float64
}

func axisColumns(label string, n int) []string {
	cols := make([]string, n)
	for i := range cols {
		if i == 0 {
			cols[i] = label
		} else {
			cols[i] = fmt.Sprintf("%s%d", label, i+1)
		}
	}
	return cols
}

// FromRows builds the table of a scan: axis positions first, then one column per signal.
func FromRows(signals []string, rows []engine.Row) Table {
	t := Table{}
	if len(rows) == 0 {
		t.Columns = append([]string{"X"}, signals...)
		return t
	}
	t.Columns = append(t.Columns, axisColumns("X", len(rows[0].X))...)
	t.Columns = append(t.Columns, axisColumns("Y", len(rows[0].Y))...)
	t.Columns = append(t.Columns, signals...)
	for _, r := range rows {
		var line []float64
		line = append(line, r.X...)
		line = append(line, r.Y...)
		line = append(line, r.Values...)
		t.Rows = append(t.Rows, line)
	}
	return t
}

func formatCell(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteTable writes a header line of column names and then one line per row. Cells a row lacks are NaN.
func WriteTable(w io.Writer, t Table) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, strings.Join(t.Columns, " ")); err != nil {
		return err
	}
	fields := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range fields {
			if i < len(row) {
				fields[i] = formatCell(row[i])
			} else {
				fields[i] = "NaN"
			}
		}
		if _, err := fmt.Fprintln(bw, strings.Join(fields, " ")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func SaveTable(path string, t Table) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if e := f.Close(); e != nil {
			err = multierror.Append(err, e)
		}
	}()
	return WriteTable(f, t)
}

// TablePath is where the table for a record file goes.
func TablePath(recordPath string) string {
	return recordPath + "_table.dat"
}

// PlotPath is where the plot image of one signal of a record file goes.
func PlotPath(recordPath, signal, format string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '/' || r == ':' || r == ' ' || r == '\\' {
			return '_'
		}
		return r
	}, signal)
	return strings.TrimSuffix(recordPath, ".dat") + "_" + clean + "." + format
}
