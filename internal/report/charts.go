package report

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/rosmetrics/internal/rosdistro"
)

const dateLayout = "2006-01-02"

// RepoCountChart plots the sampled repository counts per distro.
func RepoCountChart(series map[string][]rosdistro.TimePoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Repositories per distro"}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time"}),
	)

	distros := make([]string, 0, len(series))
	for distro := range series {
		distros = append(distros, distro)
	}

	sort.Strings(distros)

	for _, distro := range distros {
		points := make([]opts.LineData, len(series[distro]))
		for i, point := range series[distro] {
			points[i] = opts.LineData{Value: []any{point.Date.Format(dateLayout), point.Value}}
		}

		line.AddSeries(distro, points)
	}

	return line
}

// TimeSeriesChart plots one or more named time series.
func TimeSeriesChart(title string, series map[string][]rosdistro.TimePoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time"}),
	)

	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		points := make([]opts.LineData, len(series[name]))
		for i, point := range series[name] {
			points[i] = opts.LineData{Value: []any{point.Date.Format(dateLayout), point.Value}}
		}

		line.AddSeries(name, points)
	}

	return line
}

// MonthlyBarChart plots a month-bucketed counter series as stacked bars.
func MonthlyBarChart(title string, buckets map[rosdistro.MonthKey]map[string]int) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)

	months := make([]rosdistro.MonthKey, 0, len(buckets))
	values := make(map[string]struct{})

	for month, bucket := range buckets {
		months = append(months, month)

		for value := range bucket {
			values[value] = struct{}{}
		}
	}

	sort.Slice(months, func(i, j int) bool {
		if months[i].Year != months[j].Year {
			return months[i].Year < months[j].Year
		}

		return months[i].Month < months[j].Month
	})

	labels := make([]string, len(months))
	for i, month := range months {
		labels[i] = fmt.Sprintf("%04d-%02d", month.Year, int(month.Month))
	}

	bar.SetXAxis(labels)

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		data := make([]opts.BarData, len(months))
		for i, month := range months {
			data[i] = opts.BarData{Value: buckets[month][name]}
		}

		bar.AddSeries(name, data, charts.WithBarChartOpts(opts.BarChart{Stack: "total"}))
	}

	return bar
}

// RenderPage writes the given charts into one HTML page.
func RenderPage(path string, chartList ...components.Charter) error {
	page := components.NewPage()
	page.AddCharts(chartList...)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart page: %w", err)
	}
	defer file.Close()

	renderErr := page.Render(file)
	if renderErr != nil {
		return fmt.Errorf("render chart page: %w", renderErr)
	}

	return nil
}
