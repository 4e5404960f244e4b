// Package render draws signal plots with gonum/plot: a line for 1-D scans, a heat map for 2-D ones.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/celskeggs/scanmx/scan/plotdata"
)

type Options struct {
	Title  string
	XLabel string
	YLabel string
	Range  plotdata.DisplayRange
	// Colors is the number of palette steps used for heat maps.
	Colors int
}

// Build lays out a plot of a signal. It reads p and never keeps it, so p may be a snapshot that the
// caller discards afterwards.
func Build(p *plotdata.Plot, opt Options) (*plot.Plot, error) {
	out := plot.New()
	out.Title.Text = opt.Title
	out.X.Label.Text = opt.XLabel
	out.Y.Label.Text = opt.YLabel
	switch p.Kind() {
	case plotdata.Line:
		if err := addLine(out, p, opt); err != nil {
			return nil, err
		}
	case plotdata.Map:
		addMap(out, p, opt)
	default:
		panic("unknown plot kind")
	}
	return out, nil
}

func addLine(out *plot.Plot, p *plotdata.Plot, opt Options) error {
	xs := p.XData()
	pts := make(plotter.XYs, 0, p.Visible())
	for i := 0; i < p.Visible(); i++ {
		v := p.At(i)
		if p.Logarithmic() && !(v > 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: v})
	}
	out.Add(plotter.NewGrid())
	if len(pts) > 0 {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		scatter.GlyphStyle.Radius = vg.Points(2)
		out.Add(line, scatter)
	}

	// the full scan extent stays on screen while points arrive
	out.X.Min, out.X.Max = xs[0], xs[len(xs)-1]
	if out.X.Min > out.X.Max {
		out.X.Min, out.X.Max = out.X.Max, out.X.Min
	}
	if out.X.Min == out.X.Max {
		out.X.Min, out.X.Max = out.X.Min-1, out.X.Max+1
	}

	iv := opt.Range.Apply(p.DisplayInterval())
	if p.Logarithmic() {
		liv := plotdata.LogInterval(iv)
		if liv.Max > 0 {
			out.Y.Scale = plot.LogScale{}
			out.Y.Tick.Marker = plot.LogTicks{}
			out.Y.Min, out.Y.Max = liv.Min, liv.Max
			return nil
		}
	}
	iv = ordered(plotdata.Widen(iv))
	out.Y.Min, out.Y.Max = iv.Min, iv.Max
	return nil
}

// rasterGrid presents a map plot to plotter.HeatMap, which wants coordinates that increase with the
// column and row numbers.
type rasterGrid struct {
	p            *plotdata.Plot
	r            plotdata.Raster
	flipX, flipY bool
}

var _ plotter.GridXYZ = rasterGrid{}

func newRasterGrid(p *plotdata.Plot) rasterGrid {
	r, ok := p.Raster()
	if !ok {
		panic("not a map plot")
	}
	xi, yi := r.XInterval(), r.YInterval()
	return rasterGrid{p: p, r: r, flipX: xi.Min > xi.Max, flipY: yi.Min > yi.Max}
}

func (g rasterGrid) col(c int) int {
	if g.flipX {
		return g.r.Width - 1 - c
	}
	return c
}

func (g rasterGrid) row(r int) int {
	if g.flipY {
		return g.r.Height - 1 - r
	}
	return r
}

func (g rasterGrid) Dims() (c, r int) {
	return g.r.Width, g.r.Height
}

func (g rasterGrid) Z(c, r int) float64 {
	return g.p.ColorValue(g.p.At(g.col(c) + g.r.Width*g.row(r)))
}

func (g rasterGrid) X(c int) float64 {
	return g.r.ColumnX(g.col(c))
}

func (g rasterGrid) Y(r int) float64 {
	return g.r.RowY(g.row(r))
}

func ordered(iv plotdata.Interval) plotdata.Interval {
	if iv.Min > iv.Max {
		iv.Min, iv.Max = iv.Max, iv.Min
	}
	return iv
}

// colorDomain is the heat map's value range; gonum wants it finite, ordered and non-empty.
func colorDomain(p *plotdata.Plot, dr plotdata.DisplayRange) plotdata.Interval {
	iv := ordered(p.ColorInterval(dr))
	if math.IsNaN(iv.Min) || math.IsNaN(iv.Max) || iv.Width() == 0 {
		if p.Logarithmic() {
			return plotdata.Interval{Min: 0, Max: 1}
		}
		return ordered(plotdata.Widen(plotdata.Interval{Min: iv.Min, Max: iv.Min}))
	}
	return iv
}

func addMap(out *plot.Plot, p *plotdata.Plot, opt Options) {
	n := opt.Colors
	if n <= 1 {
		n = 64
	}
	heat := plotter.NewHeatMap(newRasterGrid(p), palette.Heat(n, 1))
	iv := colorDomain(p, opt.Range)
	heat.Min, heat.Max = iv.Min, iv.Max
	pal := heat.Palette.Colors()
	heat.Underflow = pal[0]
	heat.Overflow = pal[len(pal)-1]
	heat.NaN = color.Transparent
	out.Add(heat)
	if opt.Title != "" {
		scale := "linear"
		if p.Logarithmic() {
			scale = "log10"
		}
		out.Title.Text = fmt.Sprintf("%s (%s %.4g ... %.4g)", opt.Title, scale, iv.Min, iv.Max)
	}
}

// Image renders a plot to pixels.
func Image(p *plot.Plot, width, height vg.Length, dpi int) image.Image {
	c := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(dpi))
	p.Draw(draw.New(c))
	return c.Image()
}

// Locate maps a point on a canvas of the given size (origin at the bottom left) back to data coordinates.
// Both axes must be linear.
func Locate(p *plot.Plot, width, height vg.Length, pt vg.Point) (x, y float64, ok bool) {
	c := draw.New(vgimg.New(width, height))
	da := p.DataCanvas(c)
	if !da.Contains(pt) {
		return 0, 0, false
	}
	fx := float64((pt.X - da.Min.X) / (da.Max.X - da.Min.X))
	fy := float64((pt.Y - da.Min.Y) / (da.Max.Y - da.Min.Y))
	return p.X.Min + fx*(p.X.Max-p.X.Min), p.Y.Min + fy*(p.Y.Max-p.Y.Min), true
}
