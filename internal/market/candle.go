package market

// Granularities in seconds used across the engine.
const (
	Gran1m  int64 = 60
	Gran2m  int64 = 120
	Gran3m  int64 = 180
	Gran5m  int64 = 300
	Gran10m int64 = 600
	Gran15m int64 = 900
	Gran30m int64 = 1800
	Gran1h  int64 = 3600
	Gran4h  int64 = 14400
	Gran1d  int64 = 86400
)

// Candle is a single OHLC bar. Epoch is the open time of the bar, aligned to
// the granularity boundary. A candle is immutable once it leaves the cache.
type Candle struct {
	Epoch int64   `json:"epoch"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// BucketEpoch returns the aligned open time of the bucket containing ts.
func BucketEpoch(ts, granularity int64) int64 {
	return (ts / granularity) * granularity
}

// ZoneType classifies a support/resistance zone.
type ZoneType string

const (
	ZoneSupport    ZoneType = "S"
	ZoneResistance ZoneType = "R"
	ZoneFlip       ZoneType = "Flip"
)

// Zone is a clustered support/resistance level.
type Zone struct {
	Price           float64  `json:"price"`
	Type            ZoneType `json:"type"`
	Touches         int      `json:"touches"`
	LifetimeTouches int      `json:"total_lifetime_touches"`
}

// RingCapacity returns the candle ring size for a granularity. Short
// timeframes keep fewer bars.
func RingCapacity(granularity int64) int {
	switch {
	case granularity <= Gran3m:
		return 120
	case granularity >= Gran1d:
		return 60
	default:
		return 200
	}
}
