package model

import "math"

// DeliveryStats is the roll-up of a set of delivery reports. Sent counts
// every dispatch attempt, failed ones included; Delivered counts reports that
// reached DELIVERED or READ.
type DeliveryStats struct {
	Sent         int     `json:"sent"`
	Delivered    int     `json:"delivered"`
	Read         int     `json:"read"`
	Failed       int     `json:"failed"`
	DeliveryRate float64 `json:"delivery_rate"`
	ReadRate     float64 `json:"read_rate"`
	FailureRate  float64 `json:"failure_rate"`
}

// StatsFromCounts builds the roll-up from per-status row counts.
func StatsFromCounts(counts map[DeliveryStatus]int) DeliveryStats {
	st := DeliveryStats{
		Read:   counts[DeliveryRead],
		Failed: counts[DeliveryFailed],
	}
	st.Delivered = counts[DeliveryDelivered] + st.Read
	st.Sent = counts[DeliverySent] + st.Delivered + st.Failed
	st.DeliveryRate = percent(st.Delivered, st.Sent)
	st.ReadRate = percent(st.Read, st.Delivered)
	st.FailureRate = percent(st.Failed, st.Sent)
	return st
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)*1000/float64(d)) / 10
}
