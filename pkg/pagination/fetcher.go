package pagination

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/transport/rest"
)

// DefaultLimit is the page size requested from the server.
const DefaultLimit = 100

// PageFunc consumes one page of records in streaming mode.
type PageFunc func(records []map[string]interface{}) error

// Fetcher runs paginated listings against one client.
type Fetcher struct {
	client Getter
	limit  int
	log    *zap.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithLimit sets the limit query parameter of the first request.
func WithLimit(limit int) FetcherOption {
	return func(f *Fetcher) {
		if limit > 0 {
			f.limit = limit
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.log = log
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(client Getter, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{client: client, limit: DefaultLimit, log: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Pager starts a listing at target. limit is appended to the first URL only;
// next links already carry it.
func (f *Fetcher) Pager(target string) *Pager {
	first := rest.AppendQuery(target, "limit="+strconv.Itoa(f.limit))
	return NewPager(f.client, first, f.log)
}

// Fetch walks every page of target.
//
// With onPage set, each page's records are handed to it in server order,
// empty pages included, followed by one final call with no records; nothing
// is accumulated. Without it, all records
// are returned in page order. A page or callback error stops the walk; the
// records collected so far are returned with it.
func (f *Fetcher) Fetch(ctx context.Context, target string, onPage PageFunc) ([]map[string]interface{}, error) {
	pager := f.Pager(target)
	if onPage == nil {
		return Collect(ctx, pager)
	}
	return nil, Pump(ctx, pager, onPage)
}

// Collect drains pager into one slice.
func Collect(ctx context.Context, pager *Pager) ([]map[string]interface{}, error) {
	all := []map[string]interface{}{}
	for pager.HasNext() {
		page, err := pager.Next(ctx)
		if err != nil {
			return all, err
		}
		all = append(all, page.Records...)
	}
	return all, nil
}

// Pump hands every page of pager to onPage. Once the last page is through,
// onPage is called one final time with no records so the caller can finalize.
func Pump(ctx context.Context, pager *Pager, onPage PageFunc) error {
	for pager.HasNext() {
		page, err := pager.Next(ctx)
		if err != nil {
			return err
		}
		if err := onPage(page.Records); err != nil {
			return err
		}
	}
	if pager.Pages() == 0 {
		return nil
	}
	return onPage([]map[string]interface{}{})
}
