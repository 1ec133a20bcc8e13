package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-marketdata-sync/config"
	"github.com/spooky-finn/go-marketdata-sync/domain"
	"github.com/spooky-finn/go-marketdata-sync/helpers"
)

var syncLogger = logrus.WithField("component", "sync-api")

var ErrTimeout = errors.New("timeout error")

// SyncAPI is the REST side of the remote market-data service. Every call
// carries its own timeout; a failed call is returned to the specific caller
// and has no effect on the streaming channel or on other in-flight fetches.
type SyncAPI struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
}

func NewSyncAPI(conf *config.Config) *SyncAPI {
	return &SyncAPI{
		baseURL: conf.RestEndpoint,
		token:   conf.APIToken,
		timeout: conf.FetchTimeout,
		client:  &http.Client{},
	}
}

// FetchTopic returns the authoritative snapshot for one topic, including the
// per-source breakdown when the backend provides one.
func (api *SyncAPI) FetchTopic(ctx context.Context, topic string) (*domain.TopicSnapshot, error) {
	var snap domain.TopicSnapshot
	if err := api.get(ctx, "/topic/"+url.PathEscape(topic), nil, &snap); err != nil {
		return nil, err
	}
	if snap.Topic == "" {
		snap.Topic = topic
	}
	return &snap, nil
}

// FetchAll returns the ranked snapshot list for the aggregate view.
func (api *SyncAPI) FetchAll(ctx context.Context, limit int, sortKey string) ([]domain.TopicSnapshot, error) {
	query := url.Values{}
	query.Set("limit", helpers.IntToString(int64(limit)))
	query.Set("sortKey", sortKey)

	var snaps []domain.TopicSnapshot
	if err := api.get(ctx, "/topics", query, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Search runs an ad-hoc query that has no streaming equivalent.
func (api *SyncAPI) Search(ctx context.Context, searchQuery string, limit int) ([]domain.TopicSnapshot, error) {
	query := url.Values{}
	query.Set("query", searchQuery)
	query.Set("limit", helpers.IntToString(int64(limit)))

	var snaps []domain.TopicSnapshot
	if err := api.get(ctx, "/search", query, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// FetchHealth returns the per-source online/offline map.
func (api *SyncAPI) FetchHealth(ctx context.Context) (domain.ChannelHealth, error) {
	var health domain.ChannelHealth
	if err := api.get(ctx, "/health", nil, &health); err != nil {
		return nil, err
	}
	return health, nil
}

func (api *SyncAPI) get(ctx context.Context, path string, query url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, api.timeout)
	defer cancel()

	endpoint := api.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if api.token != "" {
		req.Header.Set("Authorization", "Bearer "+api.token)
	}

	resp, err := api.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			syncLogger.Warnf("request to %s timed out after %s", path, api.timeout)
			return ErrTimeout
		}
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed response from %s: %w", path, err)
	}
	return nil
}
