package board

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ErrInvalidLayout = errors.New("invalid board layout")

// Candidate is a notice as seen on the board, before deduplication.
type Candidate struct {
	Title string
	Date  string
	Link  string
}

// Layout is the row/column shape of the notice table.
// Column indexes are zero-based positions among a row's <td> cells.
type Layout struct {
	RowSelector string
	HeaderRows  int
	DateColumn  int
	TitleColumn int
	MinCells    int
}

// DefaultLayout matches a table whose first row is a header and whose rows are
// (serial, date, title-with-link, ...).
func DefaultLayout() Layout {
	return Layout{
		RowSelector: "table tr",
		HeaderRows:  1,
		DateColumn:  1,
		TitleColumn: 2,
		MinCells:    3,
	}
}

func (l Layout) Validate() error {
	if strings.TrimSpace(l.RowSelector) == "" {
		return fmt.Errorf("%w: empty row selector", ErrInvalidLayout)
	}
	if l.HeaderRows < 0 || l.DateColumn < 0 || l.TitleColumn < 0 {
		return fmt.Errorf("%w: negative index", ErrInvalidLayout)
	}
	if l.MinCells <= max(l.DateColumn, l.TitleColumn) {
		return fmt.Errorf("%w: min_cells %d does not cover columns %d/%d", ErrInvalidLayout, l.MinCells, l.DateColumn, l.TitleColumn)
	}
	return nil
}

// Parser turns one board page into notice candidates. It does no I/O.
type Parser struct {
	layout   Layout
	linkBase *url.URL
}

// NewParser validates layout. linkBase may be empty, in which case hrefs are
// resolved against the URL of the page they were found on.
func NewParser(layout Layout, linkBase string) (*Parser, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	p := &Parser{layout: layout}
	if strings.TrimSpace(linkBase) != "" {
		u, err := url.Parse(linkBase)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("link base %q must be an absolute URL", linkBase)
		}
		p.linkBase = u
	}
	return p, nil
}

// Parse returns candidates in row order. Header rows, rows with too few cells
// and rows whose title cell has no usable link are skipped silently.
func (p *Parser) Parse(html []byte, pageURL string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base := p.linkBase
	if base == nil {
		if u, err := url.Parse(pageURL); err == nil && u.IsAbs() {
			base = u
		}
	}

	out := []Candidate{}
	doc.Find(p.layout.RowSelector).Each(func(i int, row *goquery.Selection) {
		if i < p.layout.HeaderRows {
			return
		}
		cells := row.Find("td")
		if cells.Length() < p.layout.MinCells {
			return
		}
		titleCell := cells.Eq(p.layout.TitleColumn)
		href, ok := titleCell.Find("a[href]").First().Attr("href")
		if !ok {
			return
		}
		link, ok := resolveLink(base, href)
		if !ok {
			return
		}
		out = append(out, Candidate{
			Title: collapseSpace(titleCell.Text()),
			Date:  collapseSpace(cells.Eq(p.layout.DateColumn).Text()),
			Link:  link,
		})
	})
	return out, nil
}

// resolveLink makes href absolute. Only http(s) results are accepted.
func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if !ref.IsAbs() {
		if base == nil {
			return "", false
		}
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	ref.Fragment = ""
	ref.RawFragment = ""
	return ref.String(), true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
