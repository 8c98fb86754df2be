package report

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ahelp-tools/ahelp-stats/pkg/stats"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrNoHourlyData is returned when there is nothing to plot.
var ErrNoHourlyData = errors.New("no hourly data to plot")

const (
	hoursPerDay     = 24
	titleFontSize   = 12.0
	axisFontSize    = 10.0
	gridLineWidth   = 1.0
	seriesLineWidth = 3.0
	seriesDotWidth  = 4.0
	chartWidth      = 960
	chartHeight     = 480
)

// HourOfDayTotals folds hourly rows into 24 hour-of-day slots, summing
// every day in the run.
func HourOfDayTotals(rows []stats.BucketRow) (total, answered [hoursPerDay]int) {
	for _, row := range rows {
		hour := row.Period.UTC().Hour()
		total[hour] += row.TotalRequests
		answered[hour] += row.AnsweredRequests
	}
	return total, answered
}

// RenderHourlyChart draws requests and answered requests per hour of day as a PNG.
func RenderHourlyChart(rows []stats.BucketRow) ([]byte, error) {
	total, answered := HourOfDayTotals(rows)

	maxValue := 0
	for _, v := range total {
		maxValue = max(maxValue, v)
	}
	if maxValue == 0 {
		return nil, ErrNoHourlyData
	}

	xValues := make([]float64, hoursPerDay)
	totalSeries := make([]float64, hoursPerDay)
	answeredSeries := make([]float64, hoursPerDay)
	gridLines := make([]chart.GridLine, hoursPerDay)
	ticks := make([]chart.Tick, hoursPerDay)
	for h := 0; h < hoursPerDay; h++ {
		xValues[h] = float64(h)
		totalSeries[h] = float64(total[h])
		answeredSeries[h] = float64(answered[h])
		gridLines[h] = chart.GridLine{Value: float64(h)}
		ticks[h] = chart.Tick{Value: float64(h), Label: fmt.Sprintf("%02d", h)}
	}

	graph := &chart.Chart{
		Title:      "Ahelps by hour (UTC)",
		TitleStyle: chart.Style{FontSize: titleFontSize},
		Width:      chartWidth,
		Height:     chartHeight,
		Background: chart.Style{
			Padding: chart.Box{Top: 30, Left: 20, Right: 20, Bottom: 30},
		},
		XAxis: chart.XAxis{
			Style: chart.Style{FontSize: axisFontSize},
			GridMajorStyle: chart.Style{
				StrokeColor: chart.ColorAlternateGray,
				StrokeWidth: gridLineWidth,
			},
			GridLines:    gridLines,
			Ticks:        ticks,
			TickPosition: chart.TickPositionUnderTick,
		},
		YAxis: chart.YAxis{
			Style: chart.Style{FontSize: axisFontSize},
			GridMajorStyle: chart.Style{
				StrokeColor: chart.ColorAlternateGray,
				StrokeWidth: gridLineWidth,
			},
			Range: &chart.ContinuousRange{Min: 0, Max: float64(maxValue) * 1.1},
			ValueFormatter: func(v any) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			lineSeries("Requests", xValues, totalSeries, chart.ColorBlue),
			lineSeries("Answered", xValues, answeredSeries, chart.ColorGreen),
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(graph)}

	buf := new(bytes.Buffer)
	if err := graph.Render(chart.PNG, buf); err != nil {
		return nil, fmt.Errorf("failed to render hourly chart: %w", err)
	}
	return buf.Bytes(), nil
}

func lineSeries(name string, xValues, yValues []float64, color drawing.Color) chart.Series {
	return chart.ContinuousSeries{
		Name:    name,
		XValues: xValues,
		YValues: yValues,
		Style: chart.Style{
			StrokeColor: color,
			StrokeWidth: seriesLineWidth,
			DotColor:    color,
			DotWidth:    seriesDotWidth,
		},
	}
}
