package chart

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/zero-network/txexporter/pkg/yield"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoData is returned when there are no rows to draw.
var ErrNoData = errors.New("no yield data to chart")

// Type selects the chart style.
type Type string

const (
	Line Type = "line"
	Bar  Type = "bar"
	Both Type = "both"
)

// ParseType accepts line, bar or both; anything else is line.
func ParseType(s string) Type {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case Bar:
		return Bar
	case Both:
		return Both
	default:
		return Line
	}
}

const maxDateTicks = 12

var (
	skyBlue   = color.RGBA{R: 135, G: 206, B: 235, A: 200}
	darkBlue  = color.RGBA{R: 0, G: 0, B: 139, A: 255}
	lightBlue = color.RGBA{R: 173, G: 216, B: 230, A: 140}
)

// Render draws the daily series as a 12x6in PNG.
func Render(rows []yield.DailyRow, typ Type, windowDays int) ([]byte, error) {
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	p := plot.New()
	p.Title.Text = "CLNY Daily Yield Analysis"
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.X.Label.Text = "Date"
	p.Y.Label.Text = "Amount (CLNY)"
	p.Y.Min = 0
	p.Y.Tick.Marker = commaTicks{}
	p.X.Tick.Marker = dateTicks(rows)
	p.Legend.Top = true

	grid := plotter.NewGrid()
	grid.Vertical.Color = color.Gray{Y: 220}
	grid.Horizontal.Color = color.Gray{Y: 220}
	p.Add(grid)

	if typ == Bar || typ == Both {
		values := make(plotter.Values, len(rows))
		for i, r := range rows {
			values[i] = r.Amount
		}
		bars, err := plotter.NewBarChart(values, barWidth(len(rows)))
		if err != nil {
			return nil, fmt.Errorf("bar chart: %w", err)
		}
		bars.Color = lightBlue
		bars.LineStyle.Width = 0
		p.Add(bars)
		if typ == Bar {
			p.Legend.Add("Daily Yield", bars)
		}
	}

	if typ == Line || typ == Both {
		daily := make(plotter.XYs, len(rows))
		for i, r := range rows {
			daily[i] = plotter.XY{X: float64(i), Y: r.Amount}
		}
		dl, err := plotter.NewLine(daily)
		if err != nil {
			return nil, fmt.Errorf("daily line: %w", err)
		}
		dl.Color = skyBlue
		dl.Width = vg.Points(1.5)
		p.Add(dl)
		p.Legend.Add("Daily Yield", dl)

		var ma plotter.XYs
		for i, r := range rows {
			if r.MovingAvg != nil && !math.IsNaN(*r.MovingAvg) {
				ma = append(ma, plotter.XY{X: float64(i), Y: *r.MovingAvg})
			}
		}
		if len(ma) > 0 {
			ml, err := plotter.NewLine(ma)
			if err != nil {
				return nil, fmt.Errorf("moving average line: %w", err)
			}
			ml.Color = darkBlue
			ml.Width = vg.Points(2.5)
			p.Add(ml)
			p.Legend.Add(fmt.Sprintf("%d-Day Moving Avg", windowDays), ml)
		}
	}

	p.X.Min = -0.5
	p.X.Max = float64(len(rows)) - 0.5

	wt, err := p.WriterTo(12*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("render png: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderBase64 renders the chart and encodes it for an inline data URI.
func RenderBase64(rows []yield.DailyRow, typ Type, windowDays int) (string, error) {
	png, err := Render(rows, typ, windowDays)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

func barWidth(n int) vg.Length {
	w := vg.Length(10*72) / vg.Length(n) * 0.8
	if w < 1 {
		w = 1
	}
	if w > 40 {
		w = 40
	}
	return w
}

// dateTicks labels at most maxDateTicks evenly spaced rows with their date.
func dateTicks(rows []yield.DailyRow) plot.ConstantTicks {
	step := 1
	if len(rows) > maxDateTicks {
		step = int(math.Ceil(float64(len(rows)) / maxDateTicks))
	}
	var ticks plot.ConstantTicks
	for i := 0; i < len(rows); i += step {
		ticks = append(ticks, plot.Tick{Value: float64(i), Label: rows[i].Date})
	}
	return ticks
}

// commaTicks keeps the default tick positions and prints labels with thousands separators.
type commaTicks struct{}

func (commaTicks) Ticks(min, max float64) []plot.Tick {
	ticks := plot.DefaultTicks{}.Ticks(min, max)
	for i := range ticks {
		if ticks[i].Label != "" {
			ticks[i].Label = Thousands(ticks[i].Value)
		}
	}
	return ticks
}

// Thousands formats v truncated to an integer with comma separators, e.g. 1234567 -> "1,234,567".
func Thousands(v float64) string {
	n := int64(v)
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 && !(neg && b.Len() == 1) {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
