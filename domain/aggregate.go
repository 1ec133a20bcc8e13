package domain

// VolumeWeighted consolidates per-source rows into a single quote using
// 24h volume as the weight. Sources reporting zero volume fall back to a
// plain average so a quiet venue still contributes a price.
func VolumeWeighted(perSource map[string]SourceQuote) AggregatedQuote {
	var (
		agg         AggregatedQuote
		totalVolume float64
		priceSum    float64
		changeSum   float64
		plainSum    float64
		plainChange float64
	)

	for _, q := range perSource {
		totalVolume += q.Volume24h
		priceSum += q.Price * q.Volume24h
		changeSum += q.Change24h * q.Volume24h
		plainSum += q.Price
		plainChange += q.Change24h
		if q.Timestamp > agg.Timestamp {
			agg.Timestamp = q.Timestamp
		}
	}

	agg.SourceCount = len(perSource)
	agg.Volume24h = totalVolume

	if totalVolume > 0 {
		agg.Price = priceSum / totalVolume
		agg.Change24h = changeSum / totalVolume
	} else if len(perSource) > 0 {
		agg.Price = plainSum / float64(len(perSource))
		agg.Change24h = plainChange / float64(len(perSource))
	}

	return agg
}
