package domain

import "context"

// SyncAPI is the request/response side of the remote market-data service.
// Every call carries its own timeout and surfaces failures as plain errors;
// a failed fetch never affects the streaming channel or other fetches.
type SyncAPI interface {
	FetchTopic(ctx context.Context, topic string) (*TopicSnapshot, error)
	FetchAll(ctx context.Context, limit int, sortKey string) ([]TopicSnapshot, error)
	Search(ctx context.Context, query string, limit int) ([]TopicSnapshot, error)
	FetchHealth(ctx context.Context) (ChannelHealth, error)
}

// TopicBroker hands out interest in streamed topics. Acquire/Release are
// refcounted; wire traffic happens only on the 0→1 and 1→0 transitions.
type TopicBroker interface {
	Acquire(topic string)
	Release(topic string)
}

// ConnStatus exposes whether the streaming channel is currently usable.
type ConnStatus interface {
	Connected() bool
}
