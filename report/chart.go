// Package report renders an aggregate as a stacked bar chart and as a pprof
// profile of the restore phases.
package report

import (
	"fmt"
	"image/color"
	"os"

	"github.com/jifbench/jifbench/model"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgpdf"
)

// ChartFile is the chart file name inside a result directory.
const ChartFile = "graph.pdf"

// Phase is one stacked category of a bar.
type Phase string

const (
	PhaseFunction Phase = "function"
	PhaseMetadata Phase = "metadata"
	PhaseFS       Phase = "fs"
	PhaseData     Phase = "data"
)

// Phases in stacking order, bottom first.
var Phases = []Phase{PhaseFunction, PhaseMetadata, PhaseFS, PhaseData}

var phaseStyle = map[Phase]struct {
	label string
	color color.RGBA
}{
	PhaseFunction: {"Function", color.RGBA{31, 119, 180, 255}},
	PhaseMetadata: {"Cereal restore", color.RGBA{255, 127, 14, 255}},
	PhaseFS:       {"MemFS restore", color.RGBA{44, 160, 44, 255}},
	PhaseData:     {"VMA restore", color.RGBA{214, 39, 40, 255}},
}

// Label returns the legend text of the phase.
func (p Phase) Label() string {
	return phaseStyle[p].label
}

// Bar is one column of a program chart. A nil phase value means no data.
type Bar struct {
	Label  string
	Tag    string
	Values map[Phase]*int64
	Kernel *model.KernelRunStats
}

func phaseValues(s *model.RunStats) map[Phase]*int64 {
	return map[Phase]*int64{
		PhaseFunction: s.ColdFirstIter,
		PhaseMetadata: s.MetadataRestore,
		PhaseFS:       s.FSRestore,
		PhaseData:     s.DataRestore,
	}
}

// WarmIter returns the warm iteration of the first configuration, in catalog
// order, that recorded one.
func WarmIter(byTag map[string]*model.RunStats) *int64 {
	for _, c := range model.RestoreConfigs {
		if s, ok := byTag[c.Tag]; ok && s.WarmIter != nil {
			return s.WarmIter
		}
	}
	return nil
}

// Bars returns the columns of one program: the warm reference followed by
// every recorded configuration in catalog order.
func Bars(byTag map[string]*model.RunStats) []Bar {
	bars := []Bar{{
		Label:  "Warm",
		Values: map[Phase]*int64{PhaseFunction: WarmIter(byTag)},
	}}
	for _, c := range model.RestoreConfigs {
		s, ok := byTag[c.Tag]
		if !ok {
			continue
		}
		bars = append(bars, Bar{
			Label:  c.Label,
			Tag:    c.Tag,
			Values: phaseValues(s),
			Kernel: s.Kernel,
		})
	}
	return bars
}

func programPlot(program string, bars []Bar) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = program
	p.Y.Label.Text = "Microseconds"
	p.Legend.Top = true

	names := make([]string, len(bars))
	for i, b := range bars {
		names[i] = b.Label
	}

	var below *plotter.BarChart
	for _, phase := range Phases {
		values := make(plotter.Values, len(bars))
		present := false
		for i, b := range bars {
			if v := b.Values[phase]; v != nil {
				values[i] = float64(*v)
				present = true
			}
		}
		if !present {
			continue
		}

		chart, err := plotter.NewBarChart(values, vg.Points(20))
		if err != nil {
			return nil, fmt.Errorf("failed to build %s bars of %s: %w", phase, program, err)
		}
		chart.Color = phaseStyle[phase].color
		chart.LineStyle.Width = 0
		if below != nil {
			chart.StackOn(below)
		}
		below = chart

		p.Add(chart)
		p.Legend.Add(phase.Label(), chart)
	}

	var faults plotter.XYLabels
	for i, b := range bars {
		if b.Kernel == nil {
			continue
		}
		var y float64
		if v := b.Values[PhaseFunction]; v != nil {
			y = float64(*v) / 2
		}
		faults.XYs = append(faults.XYs, plotter.XY{X: float64(i), Y: y})
		faults.Labels = append(faults.Labels, fmt.Sprintf("Major: %d\nMinor: %d", b.Kernel.MajorFaults, b.Kernel.MinorFaults))
	}
	if len(faults.Labels) > 0 {
		labels, err := plotter.NewLabels(faults)
		if err != nil {
			return nil, fmt.Errorf("failed to build fault labels of %s: %w", program, err)
		}
		for i := range labels.TextStyle {
			labels.TextStyle[i].Color = color.White
			labels.TextStyle[i].XAlign = text.XCenter
			labels.TextStyle[i].YAlign = text.YCenter
		}
		p.Add(labels)
	}

	p.NominalX(names...)
	return p, nil
}

// Chart draws one stacked bar chart per program, tiled vertically into a
// single PDF at path.
func Chart(agg model.Aggregate, path string) error {
	programs := agg.Programs()
	if len(programs) == 0 {
		return fmt.Errorf("no results to chart")
	}

	plots := make([][]*plot.Plot, len(programs))
	for i, program := range programs {
		p, err := programPlot(program, Bars(agg[program]))
		if err != nil {
			return err
		}
		plots[i] = []*plot.Plot{p}
	}

	const rowHeight = 5 * vg.Inch
	img := vgpdf.New(10*vg.Inch, vg.Length(len(programs))*rowHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      len(programs),
		Cols:      1,
		PadX:      vg.Millimeter,
		PadY:      5 * vg.Millimeter,
		PadTop:    2 * vg.Millimeter,
		PadBottom: 2 * vg.Millimeter,
		PadLeft:   2 * vg.Millimeter,
		PadRight:  2 * vg.Millimeter,
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chart: %w", err)
	}
	defer f.Close()
	if _, err := img.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return f.Close()
}
