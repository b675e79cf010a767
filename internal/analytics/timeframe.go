package analytics

import "time"

// Timeframe is a coarse token selecting the aggregation window. All reports
// filter events to created_at >= now - Days; there is no upper bound.
type Timeframe string

const (
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
	Timeframe90d Timeframe = "90d"
)

// ParseTimeframe normalizes a raw token. Unrecognized or empty input falls
// back to the endpoint default rather than being rejected.
func ParseTimeframe(raw string, def Timeframe) Timeframe {
	switch Timeframe(raw) {
	case Timeframe24h, Timeframe7d, Timeframe30d, Timeframe90d:
		return Timeframe(raw)
	default:
		return def
	}
}

// Days returns the window length in days.
func (tf Timeframe) Days() int {
	switch tf {
	case Timeframe24h:
		return 1
	case Timeframe30d:
		return 30
	case Timeframe90d:
		return 90
	default:
		return 7
	}
}

// Start returns the inclusive lower bound of the window.
func (tf Timeframe) Start(now time.Time) time.Time {
	return now.AddDate(0, 0, -tf.Days())
}

func (tf Timeframe) String() string {
	return string(tf)
}
