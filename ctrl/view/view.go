// Package view shows the plot of a running scan in a window, redrawn while points arrive.
package view

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path"
	"time"

	"gioui.org/app"
	"gioui.org/f32"
	"gioui.org/io/key"
	"gioui.org/io/pointer"
	"gioui.org/io/system"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"

	"github.com/celskeggs/scanmx/scan/console"
	"github.com/celskeggs/scanmx/scan/engine"
	"github.com/celskeggs/scanmx/scan/export"
	"github.com/celskeggs/scanmx/scan/plotdata"
	"github.com/celskeggs/scanmx/scan/render"
	"github.com/celskeggs/scanmx/sim/component"
)

// frame is one rendered plot, kept with the layout it was drawn from so that clicks can be mapped back.
type frame struct {
	img    image.Image
	plot   *plot.Plot
	signal *engine.Signal
	width  vg.Length
	height vg.Length
}

type snapshot struct {
	signal *engine.Signal
	data   *plotdata.Plot
	state  engine.State
	done   int
	total  int
	xLabel string
	yLabel string
}

type PlotWidget struct {
	pacer   *component.Pacer
	session *console.Session
	DPI     int
	// ExportDir receives PNG exports; empty disables them.
	ExportDir string

	selected  int
	logScale  bool
	Busy      bool
	Ready     chan frame
	Frame     frame
	lastDrawn time.Time
	lastSize  image.Point
}

func (p *PlotWidget) toLength(px int) vg.Length {
	return vg.Points(float64(px) * vg.Inch.Points() / float64(p.DPI))
}

// take copies what the window needs out of the scheduler's hands.
func (p *PlotWidget) take(selected int, logScale bool) (snap snapshot) {
	p.pacer.DoWait(func() {
		eng := p.session.Engine()
		sigs := eng.Signals()
		snap.state = eng.State()
		snap.done, snap.total = eng.Progress()
		if len(sigs) == 0 {
			return
		}
		snap.signal = sigs[selected%len(sigs)]
		snap.signal.SetLogarithmic(logScale)
		if pl := snap.signal.Plot(); pl != nil {
			snap.data = pl.Snapshot()
		}
		if xs := p.session.Axes(console.X); len(xs) > 0 {
			snap.xLabel = xs[0].PV
		}
		if ys := p.session.Axes(console.Y); p.session.TwoD() && len(ys) > 0 {
			snap.yLabel = ys[0].PV
		} else {
			snap.yLabel = snap.signal.Name()
		}
	})
	return snap
}

func (p *PlotWidget) draw(size image.Point, selected int, logScale bool) frame {
	snap := p.take(selected, logScale)
	f := frame{signal: snap.signal, width: p.toLength(size.X), height: p.toLength(size.Y)}
	if snap.data == nil {
		return f
	}
	pl, err := render.Build(snap.data, render.Options{
		Title:  fmt.Sprintf("%s [%v %d/%d]", snap.signal.Name(), snap.state, snap.done, snap.total),
		XLabel: snap.xLabel,
		YLabel: snap.yLabel,
	})
	if err != nil {
		log.Printf("cannot plot %s: %v", snap.signal.Name(), err)
		return f
	}
	f.plot = pl
	f.img = render.Image(pl, f.width, f.height, p.DPI)
	return f
}

func (p *PlotWidget) OnReady(ready frame) {
	if !p.Busy {
		panic("should be busy")
	}
	p.Frame = ready
	p.Busy = false
}

// Refresh starts redrawing in the background, unless a redraw is already under way.
func (p *PlotWidget) Refresh(size image.Point) {
	if p.Busy || size.X <= 0 || size.Y <= 0 {
		return
	}
	p.Busy = true
	p.lastDrawn = time.Now()
	p.lastSize = size
	selected, logScale := p.selected, p.logScale
	go func() {
		p.Ready <- p.draw(size, selected, logScale)
	}()
}

var layoutTag = new(struct{})

func (p *PlotWidget) click(pos f32.Point) {
	f := p.Frame
	if f.plot == nil || f.signal == nil {
		return
	}
	pt := vg.Point{
		X: vg.Points(float64(pos.X) * vg.Inch.Points() / float64(p.DPI)),
		Y: f.height - vg.Points(float64(pos.Y)*vg.Inch.Points()/float64(p.DPI)),
	}
	x, y, ok := render.Locate(f.plot, f.width, f.height, pt)
	if !ok {
		return
	}
	p.pacer.Do(func() {
		if err := p.session.Engine().GoToPoint(f.signal, x, y); err != nil {
			log.Printf("cannot go to (%.4g, %.4g): %v", x, y, err)
		}
	})
}

func (p *PlotWidget) Layout(gtx layout.Context) layout.Dimensions {
	defer op.Save(gtx.Ops).Load()
	size := gtx.Constraints.Max

	for _, ev := range gtx.Queue.Events(layoutTag) {
		if x, ok := ev.(pointer.Event); ok && x.Type == pointer.Press && x.Buttons.Contain(pointer.ButtonPrimary) {
			p.click(x.Position)
		}
	}
	pointer.Rect(image.Rectangle{Max: size}).Add(gtx.Ops)
	pointer.InputOp{
		Tag:   layoutTag,
		Types: pointer.Press,
	}.Add(gtx.Ops)

	if size != p.lastSize || time.Since(p.lastDrawn) > 200*time.Millisecond {
		p.Refresh(size)
	}
	if p.Frame.img != nil {
		clip.Rect{Max: size}.Add(gtx.Ops)
		paint.NewImageOp(p.Frame.img).Add(gtx.Ops)
		paint.PaintOp{}.Add(gtx.Ops)
	}
	return layout.Dimensions{Size: size}
}

func (p *PlotWidget) Export() {
	if p.ExportDir == "" || p.Frame.img == nil {
		return
	}
	name := "plot.png"
	if p.Frame.signal != nil {
		name = path.Base(export.PlotPath("plot", p.Frame.signal.Name(), "png"))
	}
	filepath := path.Join(p.ExportDir, name)
	f, err := os.Create(filepath)
	if err != nil {
		log.Printf("export failed: %v", err)
		return
	}
	err = png.Encode(f, p.Frame.img)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		log.Printf("export failed: %v", err)
		return
	}
	log.Printf("Image exported to %s", filepath)
}

// Show opens the window and never returns. The pacer must be running; onClose is called on the window's
// goroutine when the window goes away, and is expected to exit the process.
func Show(pacer *component.Pacer, session *console.Session, exportDir string, onClose func()) {
	plotWidget := &PlotWidget{
		pacer:     pacer,
		session:   session,
		DPI:       128,
		ExportDir: exportDir,
		Ready:     make(chan frame),
	}

	go func() {
		win := app.NewWindow(
			app.Title("ScanMX"),
			app.Size(
				unit.Px(1024),
				unit.Px(768),
			),
		)
		defer win.Close()
		tick := time.NewTicker(250 * time.Millisecond)
		defer tick.Stop()

		for {
			select {
			case ready := <-plotWidget.Ready:
				plotWidget.OnReady(ready)
				win.Invalidate()
			case <-tick.C:
				win.Invalidate()
			case e := <-win.Events():
				switch e := e.(type) {
				case system.FrameEvent:
					ops := new(op.Ops)
					gtx := layout.NewContext(ops, e)
					layout.UniformInset(unit.Dp(30)).Layout(gtx, plotWidget.Layout)
					e.Frame(ops)
				case key.Event:
					if e.State != key.Press {
						break
					}
					switch e.Name {
					case "Q", key.NameEscape:
						win.Close()
					case "E":
						plotWidget.Export()
					case "L":
						plotWidget.logScale = !plotWidget.logScale
						plotWidget.lastDrawn = time.Time{}
					case "S":
						pacer.Do(func() {
							if err := session.StartStop(); err != nil {
								log.Printf("cannot start: %v", err)
							}
						})
					case key.NameTab:
						plotWidget.selected++
						plotWidget.lastDrawn = time.Time{}
					}
				case system.DestroyEvent:
					onClose()
					os.Exit(0)
				}
			}
		}
	}()

	app.Main()
}
