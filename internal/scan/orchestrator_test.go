package scan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"noticebot/internal/board"
	"noticebot/internal/notifier"
	"noticebot/internal/storage"
	"noticebot/internal/transport"
	"noticebot/pkg/logx"
)

type fakeSource struct {
	pages map[int][]board.Candidate
	fail  map[int]error
}

func (f *fakeSource) Page(_ context.Context, n int) ([]board.Candidate, error) {
	if err := f.fail[n]; err != nil {
		return nil, err
	}
	return f.pages[n], nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: map[string][]string{}, fail: map[string]error{}}
}

func (s *recordingSender) SendText(_ context.Context, address, text string, _ *transport.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[address]; err != nil {
		return err
	}
	s.sent[address] = append(s.sent[address], text)
	return nil
}

func (s *recordingSender) count(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent[address])
}

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func addSubscribers(t *testing.T, db *storage.DB, addresses ...string) {
	t.Helper()
	for _, a := range addresses {
		_, _, err := db.Subscribers().InsertIfAbsent(context.Background(), "sub "+a, a)
		require.NoError(t, err)
	}
}

func newNotifier(s transport.Sender) *notifier.Notifier {
	return notifier.New(notifier.Config{Workers: 4, RatePerSec: 1000, RetryBase: time.Millisecond}, s, logx.Nop())
}

func cand(n int) board.Candidate {
	return board.Candidate{Title: fmt.Sprintf("Notice %d", n), Date: "01-01-2024", Link: fmt.Sprintf("https://b.example/n/%d", n)}
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openDB(t)
	addSubscribers(t, db, "100", "200")
	sender := newRecordingSender()
	src := &fakeSource{pages: map[int][]board.Candidate{
		1: {cand(1), cand(2)},
		2: {cand(3), cand(1)},
	}}
	o := New(Config{FirstPage: 1, LastPage: 2}, src, db.Notices(), db.Subscribers(), newNotifier(sender), logx.Nop())

	rep, err := o.Run(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rep.ID)
	require.Len(t, rep.NewNotices, 3)
	require.Equal(t, []string{"Notice 1", "Notice 2", "Notice 3"}, titles(rep.NewNotices))
	require.Equal(t, []PageResult{{Page: 1, Found: 2, New: 2}, {Page: 2, Found: 2, New: 1}}, rep.Pages)
	require.Equal(t, 6, rep.Delivery.Sent)
	require.Equal(t, 3, sender.count("100"))

	again, err := o.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, again.NewNotices)
	require.NotEqual(t, rep.ID, again.ID)
	require.Zero(t, again.Delivery.Total)
	require.Equal(t, 3, sender.count("100"))

	n, err := db.Notices().Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRunSkipsFailedPage(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	pages := map[int][]board.Candidate{}
	for p := 1; p <= 10; p++ {
		pages[p] = []board.Candidate{cand(p)}
	}
	src := &fakeSource{pages: pages, fail: map[int]error{3: errors.New("HTTP 500")}}
	o := New(Config{FirstPage: 1, LastPage: 10, FetchConcurrency: 3}, src, db.Notices(), db.Subscribers(), newNotifier(newRecordingSender()), logx.Nop())

	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.NewNotices, 9)
	require.Equal(t, []int{3}, rep.FailedPages())
	require.Len(t, rep.Pages, 10)
	require.Contains(t, rep.Pages[2].Error, "HTTP 500")
	require.Empty(t, rep.Err)
}

func TestRunIsolatesFailingRecipient(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	addSubscribers(t, db, "1", "2", "3")
	sender := newRecordingSender()
	sender.fail["2"] = transport.Permanent(errors.New("bot was blocked by the user"))
	src := &fakeSource{pages: map[int][]board.Candidate{1: {cand(1)}}}
	o := New(Config{FirstPage: 1, LastPage: 1}, src, db.Notices(), db.Subscribers(), newNotifier(sender), logx.Nop())

	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, rep.Delivery.Total)
	require.Equal(t, 2, rep.Delivery.Sent)
	require.Equal(t, 1, rep.Delivery.Failed)
	require.Equal(t, "2", rep.Delivery.Failures[0].Address)
	require.Equal(t, 1, sender.count("1"))
	require.Equal(t, 1, sender.count("3"))
}

type brokenStore struct {
	inner   NoticeStore
	failAt  string
	inserts int
}

func (b *brokenStore) InsertIfAbsent(ctx context.Context, title, date, link string) (storage.Notice, bool, error) {
	if link == b.failAt {
		return storage.Notice{}, false, errors.New("disk I/O error")
	}
	b.inserts++
	return b.inner.InsertIfAbsent(ctx, title, date, link)
}

func TestRunStopsOnPersistenceErrorButDeliversCommitted(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	addSubscribers(t, db, "9")
	sender := newRecordingSender()
	store := &brokenStore{inner: db.Notices(), failAt: cand(2).Link}
	src := &fakeSource{pages: map[int][]board.Candidate{
		1: {cand(1)},
		2: {cand(2), cand(3)},
		3: {cand(4)},
	}}
	o := New(Config{FirstPage: 1, LastPage: 3}, src, store, db.Subscribers(), newNotifier(sender), logx.Nop())

	rep, err := o.Run(context.Background())
	require.ErrorContains(t, err, "disk I/O error")
	require.Equal(t, err.Error(), rep.Err)
	require.Equal(t, []string{"Notice 1"}, titles(rep.NewNotices))
	require.Len(t, rep.Pages, 2)
	require.Equal(t, 1, store.inserts)
	require.Equal(t, 1, sender.count("9"))
}

func TestRunWithoutSubscribersStillPersists(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	src := &fakeSource{pages: map[int][]board.Candidate{1: {cand(1)}}}
	o := New(Config{FirstPage: 1, LastPage: 1}, src, db.Notices(), db.Subscribers(), newNotifier(newRecordingSender()), logx.Nop())

	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.NewNotices, 1)
	require.Zero(t, rep.Delivery.Total)
}

type blockingSource struct{}

func (blockingSource) Page(ctx context.Context, _ int) ([]board.Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunDeadlineMarksPagesFailed(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	o := New(Config{FirstPage: 1, LastPage: 3, FetchConcurrency: 1, Deadline: 20 * time.Millisecond}, blockingSource{}, db.Notices(), db.Subscribers(), newNotifier(newRecordingSender()), logx.Nop())

	start := time.Now()
	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, []int{1, 2, 3}, rep.FailedPages())
}

type captureObserver struct{ reports []Report }

func (c *captureObserver) ObserveScan(r Report) { c.reports = append(c.reports, r) }

func TestApplyAndObserver(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	src := &fakeSource{pages: map[int][]board.Candidate{1: {cand(1)}, 2: {cand(2)}}}
	o := New(Config{}, src, db.Notices(), db.Subscribers(), newNotifier(newRecordingSender()), logx.Nop())
	require.Equal(t, 1, o.Config().FirstPage)
	require.Equal(t, 10, o.Config().LastPage)

	o.Apply(Config{FirstPage: 2, LastPage: 2})
	obs := &captureObserver{}
	o.SetObserver(obs)

	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Notice 2"}, titles(rep.NewNotices))
	require.Len(t, obs.reports, 1)
	require.Equal(t, rep.ID, obs.reports[0].ID)
}

func TestRunEndToEndOverHTTP(t *testing.T) {
	t.Parallel()

	page1 := `<table>
<tr><th>#</th><th>Date</th><th>Notice</th></tr>
<tr><td>1</td><td>01-02-2024</td><td><a href="Notice.asp?id=1">Exam_schedule</a></td></tr>
<tr><td>2</td><td>02-02-2024</td><td>Holiday (no link)</td></tr>
</table>`
	page2 := `<table>
<tr><th>#</th><th>Date</th><th>Notice</th></tr>
<tr><td>3</td><td>03-02-2024</td><td><a href="Notice.asp?id=1">Exam_schedule</a></td></tr>
<tr><td>4</td><td>04-02-2024</td><td><a href="/files/fees.pdf">Fees</a></td></tr>
</table>`
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			_, _ = w.Write([]byte(page1))
		case "2":
			_, _ = w.Write([]byte(page2))
		default:
			http.Error(w, "down", http.StatusBadGateway)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	parser, err := board.NewParser(board.DefaultLayout(), "")
	require.NoError(t, err)
	fetcher := board.NewFetcher(board.FetcherConfig{Timeout: time.Second, Attempts: 1}, logx.Nop())
	b := board.New(srv.URL+"/list?page="+board.PagePlaceholder, fetcher, parser)

	db := openDB(t)
	addSubscribers(t, db, "42")
	sender := newRecordingSender()
	o := New(Config{FirstPage: 1, LastPage: 3}, b, db.Notices(), db.Subscribers(), newNotifier(sender), logx.Nop())

	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Exam_schedule", "Fees"}, titles(rep.NewNotices))
	require.Equal(t, srv.URL+"/Notice.asp?id=1", rep.NewNotices[0].Link)
	require.Equal(t, []int{3}, rep.FailedPages())

	sent := sender.sent["42"]
	require.Len(t, sent, 2)
	require.True(t, strings.HasPrefix(sent[0], "*New Notice*\nExam\\_schedule\n*Date:* 01-02-2024"))
}

func titles(ns []storage.Notice) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Title)
	}
	return out
}
