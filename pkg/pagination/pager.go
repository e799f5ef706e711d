package pagination

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/errors"
	"github.com/saturnines/vacsync/pkg/transport/rest"
)

// Getter performs one GET and buffers the response.
type Getter interface {
	Get(ctx context.Context, target string) (*rest.Response, error)
}

// Page is one normalized response of a paginated listing.
type Page struct {
	URL     string
	Records []map[string]interface{}
	Next    string
}

// Pager walks a listing page by page, following _links.next.href verbatim.
// It is lazy, finite and cannot be restarted; the zero value is exhausted.
type Pager struct {
	client Getter
	next   string
	pages  int
	log    *zap.Logger
}

// NewPager returns a Pager whose first request is target.
func NewPager(client Getter, target string, log *zap.Logger) *Pager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pager{client: client, next: target, log: log}
}

// HasNext reports whether another page can be requested.
func (p *Pager) HasNext() bool {
	return p.next != ""
}

// Next fetches and normalizes the next page.
//
// A non-2xx status or a non-JSON body is returned as an *errors.ResponseError,
// a body of unknown shape as an *errors.UnrecognizedShapeError. Either way the
// pager is exhausted afterwards.
func (p *Pager) Next(ctx context.Context) (*Page, error) {
	if p.next == "" {
		return nil, errors.WrapError(fmt.Errorf("no more pages"), errors.ErrPagination, "next page")
	}

	current := p.next
	p.next = ""

	resp, err := p.client.Get(ctx, current)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrPagination, fmt.Sprintf("fetch page %d", p.pages+1))
	}
	if err := resp.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrPagination, fmt.Sprintf("fetch page %d", p.pages+1))
	}

	records, next, err := Normalize(current, resp)
	if err != nil {
		p.log.Error("unrecognized page shape", zap.String("url", current), zap.ByteString("body", resp.Body))
		return nil, err
	}

	p.pages++
	p.next = next
	p.log.Debug("page fetched",
		zap.String("url", current),
		zap.Int("page", p.pages),
		zap.Int("records", len(records)),
		zap.Bool("has_next", next != ""),
	)

	return &Page{URL: current, Records: records, Next: next}, nil
}

// Pages returns how many pages were fetched so far.
func (p *Pager) Pages() int {
	return p.pages
}
