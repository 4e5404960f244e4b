package plotdata

import "math"

// Raster addresses a width×height grid spanning a rectangle in plot coordinates. Addressing is
// nearest-cell: a coordinate picks the grid point closest to it, never an interpolation.
type Raster struct {
	XStart, XEnd float64
	YStart, YEnd float64
	Width        int
	Height       int
}

// normalized replaces a collapsed dimension with cell numbering 1..n, so a map of a stationary axis
// still spreads its cells out.
func (r Raster) normalized() Raster {
	if r.XStart == r.XEnd {
		r.XStart, r.XEnd = 1, float64(r.Width)
	}
	if r.YStart == r.YEnd {
		r.YStart, r.YEnd = 1, float64(r.Height)
	}
	return r
}

func (r Raster) Size() int {
	return r.Width * r.Height
}

func (r Raster) XInterval() Interval {
	n := r.normalized()
	return Interval{Min: n.XStart, Max: n.XEnd}
}

func (r Raster) YInterval() Interval {
	n := r.normalized()
	return Interval{Min: n.YStart, Max: n.YEnd}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func cell(v, start, end float64, n int) int {
	if n <= 1 || start == end {
		return 0
	}
	return clampInt(int(math.Round(float64(n-1)*(v-start)/(end-start))), 0, n-1)
}

// Index returns the buffer index addressed by (x,y), or false if the point lies outside the rectangle.
func (r Raster) Index(x, y float64) (int, bool) {
	if r.Width <= 0 || r.Height <= 0 || math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	n := r.normalized()
	if !n.XInterval().Contains(x) || !n.YInterval().Contains(y) {
		return 0, false
	}
	col := cell(x, n.XStart, n.XEnd, n.Width)
	row := cell(y, n.YStart, n.YEnd, n.Height)
	return col + n.Width*row, true
}

// Value reads the cell addressed by (x,y); outside the rectangle it is NaN.
func (r Raster) Value(b *Buffer, x, y float64) float64 {
	idx, ok := r.Index(x, y)
	if !ok {
		return math.NaN()
	}
	return b.At(idx)
}

// PixelHint is the size of one cell in plot coordinates.
func (r Raster) PixelHint() (w, h float64) {
	n := r.normalized()
	return math.Abs(n.XEnd-n.XStart) / float64(n.Width), math.Abs(n.YEnd-n.YStart) / float64(n.Height)
}

func position(i int, start, end float64, n int) float64 {
	if n <= 1 {
		return start
	}
	if i == n-1 {
		return end
	}
	return start + float64(i)*(end-start)/float64(n-1)
}

// ColumnX and RowY are the plot coordinates of a column or row's grid point.
func (r Raster) ColumnX(col int) float64 {
	n := r.normalized()
	return position(col, n.XStart, n.XEnd, n.Width)
}

func (r Raster) RowY(row int) float64 {
	n := r.normalized()
	return position(row, n.YStart, n.YEnd, n.Height)
}

// Coord is the inverse of Index: the grid point a buffer index stands for.
func (r Raster) Coord(index int) (x, y float64) {
	if r.Width <= 0 {
		return math.NaN(), math.NaN()
	}
	return r.ColumnX(index % r.Width), r.RowY(index / r.Width)
}

// Cell splits a buffer index into column and row.
func (r Raster) Cell(index int) (col, row int) {
	return index % r.Width, index / r.Width
}

// LineIndex addresses a 1-D line of n points from xStart to xEnd.
func LineIndex(xStart, xEnd float64, n int, x float64) (int, bool) {
	if xStart == xEnd || n < 1 || math.IsNaN(x) {
		return 0, false
	}
	idx := int(math.Round(float64(n-1) * (x - xStart) / (xEnd - xStart)))
	if idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}
