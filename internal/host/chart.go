package host

import "fmt"

// chartBase is the chart-image service rendering the on-page progress
// bar.
const chartBase = "https://chart.googleapis.com/chart"

// ProgressChartURL builds the progress-bar image URL for a document
// score in [0,100]. Out-of-range scores are clamped so a misbehaving
// backend can only ever stale the indicator, not break it.
func ProgressChartURL(docScore int) string {
	if docScore < 0 {
		docScore = 0
	}
	if docScore > 100 {
		docScore = 100
	}
	return fmt.Sprintf("%s?cht=bhs&chs=200x20&chds=0,100&chd=t:%d&chco=4d89f9&chbh=18", chartBase, docScore)
}
