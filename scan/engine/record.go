package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// recorder writes the record file. Each line is flushed as soon as it is complete, so a crash or stop
// leaves every finished point on disk. After the first write error it only remembers that error.
type recorder struct {
	file *os.File
	w    *bufio.Writer
	err  error
}

func createRecorder(path string) (*recorder, error) {
	if path == "" {
		return &recorder{}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create output file: %v", ErrInvalidConfiguration, err)
	}
	return &recorder{file: f, w: bufio.NewWriter(f)}, nil
}

func (r *recorder) line(format string, args ...interface{}) {
	if r.w == nil || r.err != nil {
		return
	}
	if _, err := fmt.Fprintf(r.w, format+"\n", args...); err != nil {
		r.err = err
		return
	}
	r.err = r.w.Flush()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'e', 6, 64)
}

func formatShort(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

type headerInfo struct {
	id      uuid.UUID
	started time.Time
	plan    *plan
	signals []*Signal
	trigs   []TriggerSetting
}

func writeAxisHeader(r *recorder, label string, axes []resolvedAxis) {
	for _, ra := range axes {
		r.line("# %s axis PV: %q", label, ra.Device.Identifier())
		r.line("# %s axis Description: %q", label, ra.Device.Description())
		r.line("# Initial position of %s axis %s: %s", label, ra.Device.Identifier(), formatShort(ra.initial))
		r.line("# %s axis %s scan range: %s ... %s", label, ra.Device.Identifier(), formatShort(ra.start), formatShort(ra.end))
		r.line("#")
	}
}

func (r *recorder) header(h headerInfo) {
	p := h.plan
	r.line("# ScanMX")
	r.line("#")
	r.line("# Date: %s", h.started.Format("Mon Jan 2 2006"))
	r.line("# Time: %s", h.started.Format("15:04:05"))
	r.line("# Scan ID: %s", h.id)
	r.line("#")
	if p.twoD {
		r.line("# 2D scan")
	} else {
		r.line("# 1D scan")
	}
	r.line("# Number of data points: %d", p.total())
	if p.twoD {
		r.line("# Number of X axis points: %d", p.xPoints)
		r.line("# Number of Y axis points: %d", p.yPoints)
	}
	r.line("#")
	writeAxisHeader(r, "X", p.x)
	writeAxisHeader(r, "Y", p.y)

	r.line("# Signals:")
	r.line("#")
	for _, s := range h.signals {
		r.line("# PV: %q", s.Name())
	}
	r.line("#")
	if len(h.trigs) > 0 {
		r.line("# Triggers:")
		r.line("#")
		for _, t := range h.trigs {
			r.line("# PV: %q", t.Trigger.Identifier())
		}
		r.line("#")
	}

	columns := []string{"%Point"}
	for _, ra := range p.x {
		columns = append(columns, "%"+ra.Device.Identifier())
	}
	for _, ra := range p.y {
		columns = append(columns, "%"+ra.Device.Identifier())
	}
	for _, s := range h.signals {
		columns = append(columns, "%"+s.Name())
	}
	r.line("# Data columns:")
	r.line("# %s", strings.Join(columns, " "))
}

func (r *recorder) limitHit(label, pv string) {
	r.line("# %s axis %s: limit hit.", label, pv)
}

func (r *recorder) data(row Row) {
	fields := []string{strconv.Itoa(row.Index + 1)}
	for _, v := range row.X {
		fields = append(fields, formatValue(v))
	}
	for _, v := range row.Y {
		fields = append(fields, formatValue(v))
	}
	for _, v := range row.Values {
		fields = append(fields, formatValue(v))
	}
	r.line("%s", strings.Join(fields, " "))
}

func (r *recorder) trailer(stopped bool) {
	if stopped {
		r.line("# Stopped unfinished.")
	} else {
		r.line("# All done.")
	}
}

func (r *recorder) close() error {
	var err error
	if r.err != nil {
		err = multierror.Append(err, r.err)
	}
	if r.file != nil {
		if e := r.file.Close(); e != nil {
			err = multierror.Append(err, e)
		}
		r.file = nil
	}
	return err
}

// CopyOutput saves another copy of a finished record file.
func CopyOutput(from, to string) (err error) {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer func() {
		if e := src.Close(); e != nil {
			err = multierror.Append(err, e)
		}
	}()
	dst, err := os.Create(to)
	if err != nil {
		return err
	}
	defer func() {
		if e := dst.Close(); e != nil {
			err = multierror.Append(err, e)
		}
	}()
	_, err = io.Copy(dst, src)
	return err
}
