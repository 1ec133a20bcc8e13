package usecase

// View is the stable read model every façade exposes to the UI. Fetch
// failures land in Err as values so a consumer can render a retry affordance
// without crashing; IsStale flags possibly-outdated data without hiding it.
type View[T any] struct {
	Value            T
	IsLoading        bool
	IsStale          bool
	Err              error
	ChannelConnected bool
}
