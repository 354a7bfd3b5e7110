package plot

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"time"

	ximgdraw "golang.org/x/image/draw"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	vgdraw "gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	minDimension = 100
	maxDimension = 2048
)

// Format selects the output image encoding.
type Format int

const (
	FormatPNG Format = iota
	FormatJPEG
)

// HistoryPoint is one plotted sample: either a raw reading or a window
// aggregate, distinguished by HasStats.
type HistoryPoint struct {
	Timestamp time.Time
	Value     float64 // seconds

	HasStats bool
	Mean     float64
	StdDev   float64
	Min      float64
	Max      float64
}

// HistoryRequest parameterizes requestHistoryPlot (original_source
// LatencyPlotter::requestHistoryPlot): title/axis text, an optional fixed
// latency range, log scale, and output dimensions.
type HistoryRequest struct {
	Title          string
	XAxisTitle     string
	YAxisTitle     string
	DateFormat     string // Go time layout, e.g. "01/02 15:04"
	MaximumLatency float64 // <0 means auto-range
	MinimumLatency float64 // <0 means auto-range
	LogScale       bool
	Width          int
	Height         int
	Format         Format
	Points         []HistoryPoint
}

// HistogramRequest parameterizes requestHistogramPlot.
type HistogramRequest struct {
	Title          string
	XAxisTitle     string
	YAxisTitle     string
	MaximumLatency float64
	MinimumLatency float64
	Width          int
	Height         int
	Format         Format
	ValuesSeconds  []float64
}

// defaultWidth/defaultHeight mirror original_source PlotterBase's defaults
// (1024x768); clamp bounds mirror its [100,2048] pixel limits.
const (
	defaultWidth  = 1024
	defaultHeight = 768
)

func clampDimension(v, fallback int) int {
	if v <= 0 {
		v = fallback
	}
	if v < minDimension {
		return minDimension
	}
	if v > maxDimension {
		return maxDimension
	}
	return v
}

// distanceThreshold is the target tick count niceRange's rounding choice
// scores against (original_source PlotterBase::distanceThreshold).
const distanceThreshold = 8.0

// niceRange rounds [lo, hi] outward to "nice" round-number bounds, the way
// the original chart axes avoid labels like 1.37, 2.74, 4.11. Ported from
// original_source PlotterBase::calculateNiceRange: the rounding unit is
// chosen from {1, 2, 5, 10} x 10^(floor(log10(distance))-1), picking
// whichever puts span/rounding closest to distanceThreshold ticks, rather
// than a fixed <=1/2/5/10 cutoff.
func niceRange(lo, hi float64) (float64, float64) {
	if lo == hi {
		if lo == 0 {
			return 0, 1
		}
		return lo - 0.5, hi + 0.5
	}

	span := math.Abs(hi - lo)
	magLo := math.Abs(lo)
	magHi := math.Abs(hi)

	var distance float64
	switch {
	case 10.0*magLo < magHi:
		distance = magHi
	case span < magLo:
		distance = span
	default:
		distance = math.Max(magLo, magHi)
	}

	powerOf10 := math.Floor(math.Log10(distance)) - 1
	rounding1 := math.Pow(10, powerOf10)
	rounding2 := 2.0 * rounding1
	rounding5 := 5.0 * rounding1
	rounding10 := 10.0 * rounding1

	score1 := math.Abs(distanceThreshold - span/rounding1)
	score2 := math.Abs(distanceThreshold - span/rounding2)
	score5 := math.Abs(distanceThreshold - span/rounding5)
	score10 := math.Abs(distanceThreshold - span/rounding10)

	rounding := rounding10
	switch {
	case score1 < score2 && score1 < score5 && score1 < score10:
		rounding = rounding1
	case score2 < score1 && score2 < score5 && score2 < score10:
		rounding = rounding2
	case score5 < score1 && score5 < score2 && score5 < score10:
		rounding = rounding5
	}

	niceLo := rounding * math.Floor(lo/rounding)
	niceHi := rounding * math.Ceil(hi/rounding)
	return niceLo, niceHi
}

// renderHistory builds the history chart described in spec §4.H /
// original_source LatencyPlotter::generateHistoryPlot: a line of raw
// readings, min/max lines, and a mean line with a shaded +/-1 sigma band
// over the aggregated contributions.
func renderHistory(req HistoryRequest) ([]byte, error) {
	p := plot.New()
	p.Title.Text = req.Title
	p.X.Label.Text = req.XAxisTitle
	p.Y.Label.Text = req.YAxisTitle

	points := req.Points
	toX := func(t time.Time) float64 { return float64(t.Unix()) }
	if req.DateFormat == "dow" {
		var weekStart time.Time
		points, weekStart = clipToMondayWeek(req.Points)
		p.X.Tick.Marker = dowTicker{}
		toX = func(t time.Time) float64 { return dayOfWeek(t, weekStart) }
	} else {
		p.X.Tick.Marker = dateTicker{format: req.DateFormat}
	}

	if req.LogScale {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{}
	}

	var rawPts, meanPts, minPts, maxPts, lowerPts, upperPts plotter.XYs
	for _, pt := range points {
		x := toX(pt.Timestamp)
		if !pt.HasStats {
			rawPts = append(rawPts, plotter.XY{X: x, Y: pt.Value})
			continue
		}
		meanPts = append(meanPts, plotter.XY{X: x, Y: pt.Mean})
		minPts = append(minPts, plotter.XY{X: x, Y: pt.Min})
		maxPts = append(maxPts, plotter.XY{X: x, Y: pt.Max})
		lowerPts = append(lowerPts, plotter.XY{X: x, Y: math.Max(0, pt.Mean-pt.StdDev)})
		upperPts = append(upperPts, plotter.XY{X: x, Y: pt.Mean + pt.StdDev})
	}

	if len(upperPts) > 1 {
		band, err := sigmaBand(lowerPts, upperPts)
		if err != nil {
			return nil, fmt.Errorf("plot: sigma band: %w", err)
		}
		band.Color = color.RGBA{R: 0x80, G: 0x80, B: 0xFF, A: 0x40}
		p.Add(band)
	}
	if err := addLine(p, minPts, color.RGBA{R: 0xE0, G: 0x80, B: 0x00, A: 0xFF}); err != nil {
		return nil, err
	}
	if err := addLine(p, maxPts, color.RGBA{R: 0xC0, G: 0x00, B: 0x00, A: 0xFF}); err != nil {
		return nil, err
	}
	if err := addLine(p, meanPts, color.RGBA{R: 0x00, G: 0x00, B: 0xC0, A: 0xFF}); err != nil {
		return nil, err
	}
	if err := addLine(p, rawPts, color.RGBA{A: 0xFF}); err != nil {
		return nil, err
	}

	if !req.LogScale {
		lo, hi := req.MinimumLatency, req.MaximumLatency
		if lo < 0 || hi < 0 {
			lo, hi = dataRange(meanPts, minPts, maxPts, rawPts)
			lo, hi = niceRange(lo, hi)
		}
		p.Y.Min, p.Y.Max = lo, hi
	}

	return renderToBytes(p, clampDimension(req.Width, defaultWidth), clampDimension(req.Height, defaultHeight), req.Format)
}

// renderHistogram builds a bar histogram of raw latency readings, per
// original_source LatencyPlotter::generateHistogramPlot.
func renderHistogram(req HistogramRequest) ([]byte, error) {
	values := make(plotter.Values, len(req.ValuesSeconds))
	copy(values, req.ValuesSeconds)

	p := plot.New()
	p.Title.Text = req.Title
	p.X.Label.Text = req.XAxisTitle
	p.Y.Label.Text = req.YAxisTitle

	hist, err := plotter.NewHist(values, histogramBins(len(values)))
	if err != nil {
		return nil, fmt.Errorf("plot: new histogram: %w", err)
	}
	hist.Color = plotutil.Color(0)
	p.Add(hist)

	if req.MinimumLatency >= 0 && req.MaximumLatency >= 0 {
		p.X.Min, p.X.Max = req.MinimumLatency, req.MaximumLatency
	}

	return renderToBytes(p, clampDimension(req.Width, defaultWidth), clampDimension(req.Height, defaultHeight), req.Format)
}

func histogramBins(n int) int {
	bins := int(math.Sqrt(float64(n)))
	if bins < 10 {
		return 10
	}
	if bins > 100 {
		return 100
	}
	return bins
}

func addLine(p *plot.Plot, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("plot: new line: %w", err)
	}
	line.Color = c
	p.Add(line)
	return nil
}

// sigmaBand turns the lower/upper sigma bounds into the filled polygon
// plotter.Polygon expects: lower bound left-to-right, upper bound
// right-to-left.
func sigmaBand(lower, upper plotter.XYs) (*plotter.Polygon, error) {
	poly := make(plotter.XYs, 0, len(lower)+len(upper))
	poly = append(poly, lower...)
	for i := len(upper) - 1; i >= 0; i-- {
		poly = append(poly, upper[i])
	}
	return plotter.NewPolygon(poly)
}

func dataRange(series ...plotter.XYs) (float64, float64) {
	lo, hi := math.MaxFloat64, -math.MaxFloat64
	found := false
	for _, s := range series {
		for _, pt := range s {
			found = true
			if pt.Y < lo {
				lo = pt.Y
			}
			if pt.Y > hi {
				hi = pt.Y
			}
		}
	}
	if !found {
		return 0, 1
	}
	return lo, hi
}

// mondayWeekStart returns midnight UTC of the Monday on or before t, the
// week-alignment rule spec §4.H's "dow" date format uses to anchor its
// day-of-week axis to the first sample's week.
func mondayWeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := int(t.Weekday())
	if day == 0 { // Sunday
		day = 7
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -(day - 1))
}

// clipToMondayWeek implements the "dow" history-plot rule: the x-axis spans
// one Monday-aligned week anchored to the first sample, and samples falling
// outside that week are dropped rather than plotted.
func clipToMondayWeek(points []HistoryPoint) ([]HistoryPoint, time.Time) {
	if len(points) == 0 {
		return points, time.Time{}
	}
	weekStart := mondayWeekStart(points[0].Timestamp)
	weekEnd := weekStart.AddDate(0, 0, 7)

	out := make([]HistoryPoint, 0, len(points))
	for _, pt := range points {
		ts := pt.Timestamp.UTC()
		if ts.Before(weekStart) || !ts.Before(weekEnd) {
			continue
		}
		out = append(out, pt)
	}
	return out, weekStart
}

// dayOfWeek maps a timestamp to its 1-7 position (Monday=1) within the week
// beginning at weekStart, fractional within the day so intra-day ordering
// is preserved on the axis.
func dayOfWeek(t time.Time, weekStart time.Time) float64 {
	return 1 + t.UTC().Sub(weekStart).Hours()/24
}

// dowTicker labels the "dow" x-axis with day-of-week names at integer
// 1-7 positions (spec §4.H).
type dowTicker struct{}

var dowNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func (dowTicker) Ticks(min, max float64) []plot.Tick {
	ticks := make([]plot.Tick, 0, 7)
	for d := 1; d <= 7; d++ {
		v := float64(d)
		if v < min-1 || v > max+1 {
			continue
		}
		ticks = append(ticks, plot.Tick{Value: v, Label: dowNames[d-1]})
	}
	return ticks
}

// dateTicker formats the X axis using the caller-supplied Go time layout,
// falling back to a sensible default (original_source's dateFormatString).
type dateTicker struct {
	format string
}

func (d dateTicker) Ticks(min, max float64) []plot.Tick {
	format := d.format
	if format == "" {
		format = "01/02 15:04"
	}
	n := 6
	ticks := make([]plot.Tick, 0, n)
	step := (max - min) / float64(n-1)
	for i := 0; i < n; i++ {
		v := min + step*float64(i)
		ticks = append(ticks, plot.Tick{Value: v, Label: time.Unix(int64(v), 0).UTC().Format(format)})
	}
	return ticks
}

// renderToBytes rasterizes p at width x height and encodes it to the
// requested format, re-encoding to JPEG via x/image/draw when requested
// (gonum/plot's native output is PNG/vector formats only).
func renderToBytes(p *plot.Plot, width, height int, format Format) ([]byte, error) {
	c := vgimg.New(vg.Length(width)*vg.Inch/96, vg.Length(height)*vg.Inch/96)
	p.Draw(vgdraw.New(c))

	var buf bytes.Buffer
	if format == FormatPNG {
		if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("plot: encode png: %w", err)
		}
		return buf.Bytes(), nil
	}

	// gonum/plot's own canvas only knows how to emit PNG/vector formats; the
	// JPEG path goes through x/image/draw to flatten into a plain RGBA image
	// stdlib's encoder accepts, since the caller asked for JPEG specifically
	// (format=jpeg or jpg on a plot request).
	src := c.Image()
	dst := image.NewRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	ximgdraw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, ximgdraw.Src)
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("plot: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
