package plotdata

import (
	"fmt"
	"math"
)

type Kind int

const (
	Line Kind = iota
	Map
)

func (k Kind) String() string {
	switch k {
	case Line:
		return "line"
	case Map:
		return "map"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type lineData struct {
	xData        []float64
	xStart, xEnd float64
	visible      int
}

type mapData struct {
	raster Raster
}

// Plot is the live model behind one signal's plot window: a line for 1-D scans, a raster map for 2-D.
// Exactly one of line and raster is set, according to kind.
type Plot struct {
	kind   Kind
	buf    *Buffer
	rng    RangeTracker
	line   *lineData
	raster *mapData
	log    bool
}

// NewLine plots samples against xData, the abscissa of every grid point.
func NewLine(xData []float64) *Plot {
	if len(xData) == 0 {
		panic("line plot needs at least one point")
	}
	p := &Plot{
		kind: Line,
		buf:  MakeBuffer(len(xData)),
		rng:  MakeRangeTracker(),
		line: &lineData{
			xData:  append([]float64(nil), xData...),
			xStart: xData[0],
			xEnd:   xData[len(xData)-1],
		},
	}
	p.UpdateFull()
	return p
}

func NewMap(r Raster) *Plot {
	if r.Width <= 0 || r.Height <= 0 {
		panic("map plot needs a non-empty raster")
	}
	p := &Plot{
		kind:   Map,
		buf:    MakeBuffer(r.Size()),
		rng:    MakeRangeTracker(),
		raster: &mapData{raster: r},
	}
	p.UpdateFull()
	return p
}

func (p *Plot) Kind() Kind {
	return p.kind
}

func (p *Plot) Buffer() *Buffer {
	return p.buf
}

func (p *Plot) Len() int {
	return p.buf.Len()
}

func (p *Plot) Set(index int, v float64) {
	p.buf.Set(index, v)
}

func (p *Plot) At(index int) float64 {
	return p.buf.At(index)
}

// UpdateFull rebuilds everything derived from the buffer.
func (p *Plot) UpdateFull() {
	p.rng.FullRescan(p.buf.Values())
	if p.kind == Line {
		p.line.visible = p.buf.LeadingMeasured()
	}
}

// UpdateIncremental accounts for one newly written sample v and reports whether anything visible beyond
// the new point itself changed (the range, or for lines the drawn length). Samples arrive in raster
// order, so a line only ever grows by one point.
func (p *Plot) UpdateIncremental(v float64) bool {
	changed := p.rng.Observe(v)
	if p.kind == Line {
		l := p.line
		if l.visible < p.buf.Len() && !math.IsNaN(p.buf.At(l.visible)) {
			l.visible++
			changed = true
		}
	}
	return changed
}

// Visible is the number of leading points a line draws; maps always show every cell.
func (p *Plot) Visible() int {
	if p.kind == Line {
		return p.line.visible
	}
	return p.buf.Len()
}

// ValueAt reads the sample nearest to a plot coordinate; y is ignored for lines.
func (p *Plot) ValueAt(x, y float64) float64 {
	switch p.kind {
	case Line:
		idx, ok := LineIndex(p.line.xStart, p.line.xEnd, p.buf.Len(), x)
		if !ok {
			return math.NaN()
		}
		return p.buf.At(idx)
	case Map:
		return p.raster.raster.Value(p.buf, x, y)
	default:
		panic("unknown plot kind")
	}
}

// IndexAt reports which grid point a plot coordinate picks.
func (p *Plot) IndexAt(x, y float64) (int, bool) {
	switch p.kind {
	case Line:
		return LineIndex(p.line.xStart, p.line.xEnd, p.buf.Len(), x)
	case Map:
		return p.raster.raster.Index(x, y)
	default:
		panic("unknown plot kind")
	}
}

func (p *Plot) Range() Interval {
	return p.rng.Interval()
}

func (p *Plot) DisplayInterval() Interval {
	return p.rng.DisplayInterval()
}

// SetAbscissa corrects the x coordinate of one line point, typically to where the positioner settled.
func (p *Plot) SetAbscissa(index int, x float64) {
	if p.kind != Line {
		panic("abscissa only applies to line plots")
	}
	if index >= 0 && index < len(p.line.xData) {
		p.line.xData[index] = x
	}
}

// XData is the abscissa of every line point, measured or not.
func (p *Plot) XData() []float64 {
	if p.kind != Line {
		return nil
	}
	return p.line.xData
}

func (p *Plot) Raster() (Raster, bool) {
	if p.kind != Map {
		return Raster{}, false
	}
	return p.raster.raster, true
}

func (p *Plot) SetLogarithmic(log bool) {
	p.log = log
}

func (p *Plot) Logarithmic() bool {
	return p.log
}

// ColorInterval is the colour map domain (for maps) or value axis range (for lines), after the
// logarithmic policy when enabled.
func (p *Plot) ColorInterval(dr DisplayRange) Interval {
	iv := dr.Apply(p.DisplayInterval())
	if p.log {
		return LogColorInterval(iv)
	}
	return iv
}

// ColorValue maps one sample into the domain returned by ColorInterval.
func (p *Plot) ColorValue(v float64) float64 {
	if p.log {
		return LogValue(v)
	}
	return v
}

// Snapshot is a deep copy a renderer may read on another goroutine while the scan keeps writing.
func (p *Plot) Snapshot() *Plot {
	c := &Plot{
		kind: p.kind,
		buf:  p.buf.clone(),
		rng:  p.rng,
		log:  p.log,
	}
	if p.line != nil {
		l := *p.line
		l.xData = append([]float64(nil), p.line.xData...)
		c.line = &l
	}
	if p.raster != nil {
		m := *p.raster
		c.raster = &m
	}
	return c
}
