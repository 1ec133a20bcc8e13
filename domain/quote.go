package domain

// SourceQuote is one venue's view of a topic.
type SourceQuote struct {
	SourceID  string  `json:"sourceId"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
	Volume24h float64 `json:"volume24h"`
	Timestamp int64   `json:"timestamp"`
}

// AggregatedQuote is the consolidated view of a topic that consumers render.
type AggregatedQuote struct {
	Price       float64 `json:"price"`
	Change24h   float64 `json:"change24h"`
	Volume24h   float64 `json:"volume24h"`
	SourceCount int     `json:"sourceCount"`
	Timestamp   int64   `json:"timestamp"`
}

// TopicSnapshot is an authoritative point-in-time view of a topic as
// returned by the REST api. The per-source breakdown is optional: a
// snapshot without one only refreshes the aggregate.
type TopicSnapshot struct {
	Topic      string          `json:"topic"`
	Aggregated AggregatedQuote `json:"aggregated"`
	PerSource  []SourceQuote   `json:"perSource,omitempty"`
}

// SourceHealth is the liveness of one upstream venue. LastSeen is zero when
// the venue has never been seen this session.
type SourceHealth struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"`
}

// ChannelHealth maps source id to its liveness. It is updated only by
// explicit health messages, independently from price data.
type ChannelHealth map[string]SourceHealth
