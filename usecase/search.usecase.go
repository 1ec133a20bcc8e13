package usecase

import (
	"context"

	"github.com/spooky-finn/go-marketdata-sync/domain"
)

const defaultSearchLimit = 20

// SearchUseCase runs ad-hoc queries against the REST api. Search has no
// streaming equivalent and no cache entry of its own; results go straight to
// the caller and failures are returned as values.
type SearchUseCase struct {
	syncAPI domain.SyncAPI
}

func NewSearchUseCase(syncAPI domain.SyncAPI) *SearchUseCase {
	return &SearchUseCase{syncAPI: syncAPI}
}

func (uc *SearchUseCase) Search(ctx context.Context, query string, limit int) ([]domain.TopicSnapshot, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return uc.syncAPI.Search(ctx, query, limit)
}
