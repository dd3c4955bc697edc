package indicators

import (
	"math"
	"sort"

	"github.com/koshedutech/deriv-trading-engine/internal/market"
)

// snrCluster accumulates nearby peak/trough levels while clustering.
type snrCluster struct {
	price    float64
	touches  int
	isFlip   bool
	lastType market.ZoneType
	prices   []float64
}

// CalculateSNRZones clusters local peaks and troughs over the last 100
// candles into support/resistance zones. Zones alternating between S and R
// become Flip zones. Lifetime touch counts are carried over from `previous`
// when a new zone lands within 0.1% of an old one; zones past 5 lifetime
// touches are retired. At most the 5 most-touched zones survive.
func CalculateSNRZones(candles []market.Candle, previous []market.Zone) []market.Zone {
	if len(candles) < 20 {
		return previous
	}
	if len(candles) > 100 {
		candles = candles[len(candles)-100:]
	}

	type level struct {
		price float64
		typ   market.ZoneType
	}
	var levels []level
	for i := 1; i < len(candles)-1; i++ {
		if candles[i].High > candles[i-1].High && candles[i].High > candles[i+1].High {
			levels = append(levels, level{candles[i].High, market.ZoneResistance})
		}
		if candles[i].Low < candles[i-1].Low && candles[i].Low < candles[i+1].Low {
			levels = append(levels, level{candles[i].Low, market.ZoneSupport})
		}
	}
	if len(levels) == 0 {
		return previous
	}

	avgClose := 0.0
	for _, c := range candles {
		avgClose += c.Close
	}
	avgClose /= float64(len(candles))
	threshold := avgClose * 0.0005

	var clusters []*snrCluster
	for _, l := range levels {
		found := false
		for _, cl := range clusters {
			if math.Abs(l.price-cl.price) < threshold {
				cl.prices = append(cl.prices, l.price)
				cl.touches++
				if l.typ != cl.lastType {
					cl.isFlip = true
				}
				cl.lastType = l.typ
				found = true
				break
			}
		}
		if !found {
			clusters = append(clusters, &snrCluster{
				price: l.price, touches: 1, lastType: l.typ, prices: []float64{l.price},
			})
		}
	}

	var zones []market.Zone
	for _, cl := range clusters {
		if cl.touches < 2 {
			continue
		}
		mean := 0.0
		for _, p := range cl.prices {
			mean += p
		}
		mean /= float64(len(cl.prices))

		typ := cl.lastType
		if cl.isFlip {
			typ = market.ZoneFlip
		}
		z := market.Zone{Price: mean, Type: typ, Touches: cl.touches, LifetimeTouches: cl.touches}
		for _, oz := range previous {
			if oz.Price != 0 && math.Abs(z.Price-oz.Price)/oz.Price < 0.001 {
				z.LifetimeTouches = oz.LifetimeTouches
				break
			}
		}
		if z.LifetimeTouches <= 5 {
			zones = append(zones, z)
		}
	}

	sort.Slice(zones, func(i, j int) bool { return zones[i].Touches > zones[j].Touches })
	if len(zones) > 5 {
		zones = zones[:5]
	}
	return zones
}
