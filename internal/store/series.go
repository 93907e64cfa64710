package store

import "klinerelay/internal/market"

// Point is one value of a derived series.
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// VolumePoint carries the bar direction so renderers can colour it.
type VolumePoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Up    bool    `json:"up"`
}

// LineData 取收盘价作为折线序列。
func LineData(ks []market.Candle) []Point {
	out := make([]Point, 0, len(ks))
	for _, k := range ks {
		out = append(out, Point{Time: k.Time, Value: k.Close})
	}
	return out
}

// VolumeData 取成交量序列；缺失成交量的 K 线记为 0。
func VolumeData(ks []market.Candle) []VolumePoint {
	out := make([]VolumePoint, 0, len(ks))
	for _, k := range ks {
		out = append(out, VolumePoint{Time: k.Time, Value: k.VolumeOr(0), Up: k.Close >= k.Open})
	}
	return out
}
