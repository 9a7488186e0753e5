package aggregate

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"
)

// Summary describes the distribution of per-second create totals
type Summary struct {
	Seconds int
	Total   uint64
	Min     float64
	Max     float64
	Mean    float64
	Median  float64
	P95     float64
	StdDev  float64
}

// Summarize computes a Summary over an aggregate series
func Summarize(sums []uint64) (*Summary, error) {
	if len(sums) == 0 {
		return nil, fmt.Errorf("summarize: empty series")
	}
	data := make(stats.Float64Data, len(sums))
	s := &Summary{Seconds: len(sums)}
	for i, v := range sums {
		data[i] = float64(v)
		s.Total += v
	}

	var err error
	if s.Min, err = data.Min(); err != nil {
		return nil, err
	}
	if s.Max, err = data.Max(); err != nil {
		return nil, err
	}
	if s.Mean, err = data.Mean(); err != nil {
		return nil, err
	}
	if s.Median, err = data.Median(); err != nil {
		return nil, err
	}
	if s.P95, err = data.PercentileNearestRank(95); err != nil {
		return nil, err
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Summary) String() string {
	return fmt.Sprintf("%s creates over %d secs: mean %s/s median %s/s p95 %s/s min %s/s max %s/s stddev %s",
		humanize.Comma(int64(s.Total)), s.Seconds,
		humanize.CommafWithDigits(s.Mean, 1),
		humanize.CommafWithDigits(s.Median, 1),
		humanize.CommafWithDigits(s.P95, 1),
		humanize.Commaf(s.Min),
		humanize.Commaf(s.Max),
		humanize.CommafWithDigits(s.StdDev, 1))
}
