package app

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	catalogmocks "github.com/stacklok/tmdb-sync/internal/catalog/mocks"
	"github.com/stacklok/tmdb-sync/internal/config"
)

// twoPageFetcher serves a two page movie list with two records per page
func twoPageFetcher(t *testing.T) *catalogmocks.MockFetcher {
	t.Helper()
	fetcher := catalogmocks.NewMockFetcher(gomock.NewController(t))
	fetcher.EXPECT().
		FetchPage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req catalog.PageRequest) (*catalog.Page, error) {
			number := 1
			var next catalog.PageToken = catalog.Token("2")
			if req.Token == "2" {
				number = 2
				next = catalog.NoMore{}
			}
			page := &catalog.Page{Entity: req.Entity, Number: number, TotalPages: 2, Next: next}
			for i := range 2 {
				id := (number-1)*2 + i + 1
				page.Records = append(page.Records, catalog.Record{
					ID:          fmt.Sprint(id),
					ContentType: catalog.ContentMovie,
					Payload:     []byte(fmt.Sprintf(`{"id":%d,"title":"Movie %d"}`, id, id)),
				})
			}
			return page, nil
		}).
		AnyTimes()
	return fetcher
}

func createValidTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Entities: []config.EntityConfig{
			{Name: string(catalog.MoviePopular), Mode: config.ModeFull},
		},
		Sync: config.SyncConfig{
			MaxConcurrentRuns: 2,
			ReporterQueueSize: 16,
		},
		Storage: config.StorageConfig{
			Documents: config.StorageTypeMemory,
			Cursors:   config.StorageTypeFile,
			DataDir:   t.TempDir(),
		},
	}
}
