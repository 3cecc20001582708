package board

import (
	"context"
	"fmt"
)

// Board fetches and parses pages of one paginated notice board.
type Board struct {
	template string
	fetcher  *Fetcher
	parser   *Parser
}

// New binds a "{page}" URL template to a fetcher and parser.
func New(template string, fetcher *Fetcher, parser *Parser) *Board {
	return &Board{template: template, fetcher: fetcher, parser: parser}
}

func (b *Board) URL(page int) string { return PageURL(b.template, page) }

// Page fetches page n and returns its candidates in row order.
func (b *Board) Page(ctx context.Context, n int) ([]Candidate, error) {
	u := b.URL(n)
	html, err := b.fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	cands, err := b.parser.Parse(html, u)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", n, err)
	}
	return cands, nil
}
