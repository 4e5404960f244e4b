package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/celskeggs/scanmx/ctrl/view"
	"github.com/celskeggs/scanmx/scan/console"
	"github.com/celskeggs/scanmx/scan/engine"
	"github.com/celskeggs/scanmx/scan/export"
	"github.com/celskeggs/scanmx/scan/plotdata"
	"github.com/celskeggs/scanmx/scan/render"
	"github.com/celskeggs/scanmx/scan/settings"
	"github.com/celskeggs/scanmx/sim/bench"
	"github.com/celskeggs/scanmx/sim/component"
)

type outcome struct {
	result engine.Result
	names  []string
	plots  []*plotdata.Plot
	rows   []engine.Row
	xLabel string
	yLabel string
}

func collect(s *console.Session) outcome {
	eng := s.Engine()
	o := outcome{result: eng.Result(), rows: eng.Rows()}
	for _, sig := range eng.Signals() {
		o.names = append(o.names, sig.Name())
		if sig.Plot() != nil {
			o.plots = append(o.plots, sig.Plot().Snapshot())
		} else {
			o.plots = append(o.plots, nil)
		}
	}
	if xs := s.Axes(console.X); len(xs) > 0 {
		o.xLabel = xs[0].PV
	}
	if ys := s.Axes(console.Y); s.TwoD() && len(ys) > 0 {
		o.yLabel = ys[0].PV
	}
	return o
}

func savePlots(record string, names []string, plots []*plotdata.Plot, xLabel, yLabel, format string) error {
	for i, p := range plots {
		if p == nil {
			continue
		}
		label := yLabel
		if label == "" {
			label = names[i]
		}
		pl, err := render.Build(p, render.Options{Title: names[i], XLabel: xLabel, YLabel: label})
		if err != nil {
			return err
		}
		out := export.PlotPath(record, names[i], format)
		if err := render.SavePlot(pl, 6*vg.Inch, 4*vg.Inch, out, format); err != nil {
			return err
		}
		log.Printf("Wrote plot %s", out)
	}
	return nil
}

func (o outcome) write(format string, table bool) error {
	r := o.result
	log.Printf("Scan %v: %d of %d points, complete=%v, recorded to %s", r.ScanID, r.Points, r.Total, r.Complete, r.Output)
	for _, w := range r.Warnings {
		log.Printf("warning: %v", w)
	}
	if r.Output == "" {
		return nil
	}
	if format != "" {
		if err := savePlots(r.Output, o.names, o.plots, o.xLabel, o.yLabel, format); err != nil {
			return err
		}
	}
	if table {
		out := export.TablePath(r.Output)
		if err := export.SaveTable(out, export.FromRows(o.names, o.rows)); err != nil {
			return err
		}
		log.Printf("Wrote table %s", out)
	}
	return nil
}

func replot(path, format string, table bool) error {
	df, err := export.ReadDataFileAt(path)
	if err != nil {
		return err
	}
	var plots []*plotdata.Plot
	for i := range df.Signals() {
		p, err := df.Plot(i)
		if err != nil {
			return err
		}
		plots = append(plots, p)
	}
	xLabel, yLabel := "", ""
	if df.XAxes > 0 {
		xLabel = df.Columns[1]
	}
	if df.YAxes > 0 {
		yLabel = df.Columns[1+df.XAxes]
	}
	if format != "" {
		if err := savePlots(path, df.Signals(), plots, xLabel, yLabel, format); err != nil {
			return err
		}
	}
	if table {
		out := export.TablePath(path)
		if err := export.SaveTable(out, df.Table()); err != nil {
			return err
		}
		log.Printf("Wrote table %s", out)
	}
	return nil
}

func parseCell(s string) (col, row int, err error) {
	if _, err := fmt.Sscanf(s, "%d,%d", &col, &row); err != nil {
		return 0, 0, fmt.Errorf("bad cell %q, expected COL,ROW: %v", s, err)
	}
	return col, row, nil
}

// waitIdle polls the engine from outside the scheduler until neither a scan nor a move is under way.
func waitIdle(p *component.Pacer, s *console.Session) {
	for {
		busy := true
		p.DoWait(func() {
			busy = s.Engine().Busy()
		})
		if !busy {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func defaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "scanmx.toml"
	}
	return filepath.Join(home, ".scanmx.toml")
}

func main() {
	settingsPath := flag.String("settings", defaultSettingsPath(), "settings file, created on first save")
	outDir := flag.String("out", "", "directory for record files, overriding the settings")
	rate := flag.Float64("rate", 0, "virtual seconds per wall-clock second, overriding the settings")
	virtual := flag.Bool("virtual", false, "run in virtual time as fast as possible")
	twoD := flag.Bool("2d", false, "scan the Y axes too")
	format := flag.String("plot", "png", "image format for plots written after the scan; empty for none")
	table := flag.Bool("table", false, "also export the results as a table")
	live := flag.Bool("view", false, "show the scan in a window")
	replotPath := flag.String("replot", "", "redraw the plots of a record file and exit")
	gotoCell := flag.String("goto", "", "after the scan, move the axes to grid cell COL,ROW")
	flag.Parse()

	if *replotPath != "" {
		if err := replot(*replotPath, *format, *table); err != nil {
			log.Fatal(err)
		}
		return
	}

	st, err := settings.LoadOrDefault(*settingsPath)
	if err != nil {
		log.Fatal(err)
	}
	if *outDir != "" {
		st.Output.Dir = *outDir
	}
	if *rate > 0 {
		st.Sim.Rate = *rate
	}
	sim := component.MakeSimControllerSeeded(st.Sim.Seed)
	hw, err := bench.Build(sim, st.Sim)
	if err != nil {
		log.Fatal(err)
	}
	session, err := console.NewSession(sim, hw, st, *settingsPath, log.Default())
	if err != nil {
		log.Printf("Some settings were not restored: %v", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()
	if *twoD && !session.TwoD() {
		if err := session.SetTwoD(true); err != nil {
			log.Fatal(err)
		}
	}
	if err := session.Ready(); err != nil {
		log.Fatal(err)
	}
	col, row := -1, -1
	if *gotoCell != "" {
		if col, row, err = parseCell(*gotoCell); err != nil {
			log.Fatal(err)
		}
	}

	if *virtual {
		if err := session.Start(); err != nil {
			log.Fatal(err)
		}
		idle := func() bool { return !session.Engine().Busy() }
		sim.RunUntil(sim.Now().Add(24*time.Hour), idle)
		if err := collect(session).write(*format, *table); err != nil {
			log.Fatal(err)
		}
		if col >= 0 {
			if err := session.Engine().GoTo(col, row); err != nil {
				log.Fatal(err)
			}
			sim.RunUntil(sim.Now().Add(24*time.Hour), idle)
		}
		return
	}

	pacer := component.MakePacer(sim)
	pacer.Rate = st.Sim.Rate
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan error, 1)
	go func() {
		ran <- pacer.Run(ctx)
	}()

	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		<-interrupts
		log.Printf("Stopping scan")
		pacer.Do(session.Engine().RequestStop)
		<-interrupts
		log.Fatal("interrupted twice")
	}()

	var startErr error
	pacer.DoWait(func() {
		startErr = session.Start()
	})
	if startErr != nil {
		log.Fatal(startErr)
	}

	var finished sync.WaitGroup
	finished.Add(1)
	go func() {
		defer finished.Done()
		waitIdle(pacer, session)
		var o outcome
		pacer.DoWait(func() {
			o = collect(session)
		})
		if err := o.write(*format, *table); err != nil {
			log.Printf("writing results: %v", err)
		}
		if col >= 0 {
			var err error
			pacer.DoWait(func() {
				err = session.Engine().GoTo(col, row)
			})
			if err != nil {
				log.Printf("go to: %v", err)
			}
			waitIdle(pacer, session)
		}
	}()

	if *live {
		view.Show(pacer, session, st.Output.Dir, func() {
			pacer.Do(session.Engine().RequestStop)
			finished.Wait()
			cancel()
		})
		return
	}
	finished.Wait()
	cancel()
	if err := <-ran; err != nil && err != context.Canceled {
		log.Fatal(err)
	}
}
