package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/counterload/internal/metrics"
)

func TestWriteHTML(t *testing.T) {
	result := sampleResult(false)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		result.TimeSeries = append(result.TimeSeries, &metrics.TimeBucket{
			Timestamp:   start.Add(time.Duration(i) * time.Second),
			IntervalRPS: float64(10 * (i + 1)),
			LatencyP95:  time.Duration(i+1) * time.Millisecond,
			ActiveVUs:   i,
		})
	}

	html, err := WriteHTML(result)
	require.NoError(t, err)
	page := string(html)

	assert.Contains(t, page, "<title>counter-load - counterload report</title>")
	assert.Contains(t, page, `<span class="fail">failed</span>`)
	assert.Contains(t, page, "3f1c2d6e-0000-4000-8000-000000000000")
	assert.Contains(t, page, "12,345")
	assert.Contains(t, page, "status is 200")
	assert.Contains(t, page, "p(95)&lt;200")
	assert.Equal(t, 3, strings.Count(page, "<polyline"))
	assert.Contains(t, page, "peak 30.0")
}

func TestWriteHTML_NoSeries(t *testing.T) {
	result := sampleResult(true)

	html, err := WriteHTML(result)
	require.NoError(t, err)
	assert.Contains(t, string(html), `<span class="pass">passed</span>`)
	assert.NotContains(t, string(html), "<polyline")
}

func TestWriteHTML_Nil(t *testing.T) {
	_, err := WriteHTML(nil)
	assert.Error(t, err)
}

func TestLineChart(t *testing.T) {
	series := []*metrics.TimeBucket{{ActiveVUs: 0}, {ActiveVUs: 5}, {ActiveVUs: 10}}

	c := lineChart("Active VUs", series, func(b *metrics.TimeBucket) float64 { return float64(b.ActiveVUs) }, "%.0f")
	assert.Equal(t, "10", c.Max)
	assert.Equal(t, "0.0,160.0 360.0,80.0 720.0,0.0", c.Points)

	flat := lineChart("flat", []*metrics.TimeBucket{{}, {}}, func(*metrics.TimeBucket) float64 { return 0 }, "%.0f")
	assert.Equal(t, "0.0,160.0 720.0,160.0", flat.Points)
}

func TestWriteHTMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")
	require.NoError(t, WriteHTMLFile(path, sampleResult(true)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "<!DOCTYPE html>"))
}
