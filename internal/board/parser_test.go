package board

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<html><body>
<table>
  <tr><th>#</th><th>Date</th><th>Notice</th></tr>
  <tr><td>1</td><td> 01-02-2024 </td><td><a href="Notice.asp?id=11">  Exam
      schedule  </a></td></tr>
  <tr><td>only one cell</td></tr>
  <tr><td>2</td><td>02-02-2024</td><td>Holiday (no link)</td></tr>
  <tr><td>3</td><td>03-02-2024</td><td><a href="/files/fees.pdf#p2">Fee notice</a></td><td>extra</td></tr>
  <tr><td>4</td><td>04-02-2024</td><td><a href="javascript:void(0)">Broken</a></td></tr>
  <tr><td>5</td><td>05-02-2024</td><td><a href="https://other.example/x">Absolute</a></td></tr>
</table>
</body></html>`

func TestParseDefaultLayout(t *testing.T) {
	t.Parallel()

	p, err := NewParser(DefaultLayout(), "https://board.example/home/notice/")
	require.NoError(t, err)

	got, err := p.Parse([]byte(samplePage), "https://board.example/home/notice/Notice.asp?page=1")
	require.NoError(t, err)
	require.Equal(t, []Candidate{
		{Title: "Exam schedule", Date: "01-02-2024", Link: "https://board.example/home/notice/Notice.asp?id=11"},
		{Title: "Fee notice", Date: "03-02-2024", Link: "https://board.example/files/fees.pdf"},
		{Title: "Absolute", Date: "05-02-2024", Link: "https://other.example/x"},
	}, got)
}

func TestParseResolvesAgainstPageURLWithoutLinkBase(t *testing.T) {
	t.Parallel()

	p, err := NewParser(DefaultLayout(), "")
	require.NoError(t, err)

	html := `<table><tr><th>h</th></tr><tr><td>1</td><td>d</td><td><a href="/n/1.html">A</a></td></tr></table>`
	got, err := p.Parse([]byte(html), "https://board.example/list?page=3")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "https://board.example/n/1.html", got[0].Link)

	// Relative link with no resolvable base is dropped.
	got, err = p.Parse([]byte(html), "not a url")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestParseSkipsRows(t *testing.T) {
	t.Parallel()

	p, err := NewParser(DefaultLayout(), "https://board.example/")
	require.NoError(t, err)

	tests := []struct {
		name string
		html string
	}{
		{"header only", `<table><tr><td>1</td><td>d</td><td><a href="/a">A</a></td></tr></table>`},
		{"one cell", `<table><tr><th>h</th></tr><tr><td><a href="/a">A</a></td></tr></table>`},
		{"no anchor", `<table><tr><th>h</th></tr><tr><td>1</td><td>d</td><td>plain</td></tr></table>`},
		{"empty href", `<table><tr><th>h</th></tr><tr><td>1</td><td>d</td><td><a href="  ">A</a></td></tr></table>`},
		{"no table", `<p>nothing here</p>`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := p.Parse([]byte(tt.html), "https://board.example/")
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestParseCustomLayout(t *testing.T) {
	t.Parallel()

	layout := Layout{RowSelector: "#notices tr", HeaderRows: 0, DateColumn: 0, TitleColumn: 1, MinCells: 2}
	p, err := NewParser(layout, "https://b.example/")
	require.NoError(t, err)

	html := `<table id="notices"><tr><td>2024-03-01</td><td><a href="n/9">Nine</a></td></tr></table>
<table><tr><td>ignored</td><td><a href="n/0">Zero</a></td></tr></table>`
	got, err := p.Parse([]byte(html), "")
	require.NoError(t, err)
	require.Equal(t, []Candidate{{Title: "Nine", Date: "2024-03-01", Link: "https://b.example/n/9"}}, got)
}

func TestLayoutValidate(t *testing.T) {
	t.Parallel()

	bad := []Layout{
		{RowSelector: "", MinCells: 3, TitleColumn: 2},
		{RowSelector: "tr", MinCells: 2, DateColumn: 1, TitleColumn: 2},
		{RowSelector: "tr", MinCells: 3, DateColumn: -1, TitleColumn: 2},
	}
	for _, l := range bad {
		err := l.Validate()
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrInvalidLayout))
	}
	require.NoError(t, DefaultLayout().Validate())

	_, err := NewParser(DefaultLayout(), "/relative/")
	require.Error(t, err)
}
