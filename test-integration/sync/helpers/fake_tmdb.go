package helpers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FakeTMDB serves paginated movie lists, a movie changes feed and movie
// details in the TMDB v3 wire format
type FakeTMDB struct {
	server *httptest.Server
	token  string

	mu         sync.Mutex
	totalPages int
	perPage    int
	changed    []int
	titles     map[int]string
	failStatus int
	delay      time.Duration
	requests   []string
}

// NewFakeTMDB starts a fake API that accepts bearer token and lists
// totalPages pages of perPage movies on /movie/popular
func NewFakeTMDB(token string, totalPages, perPage int) *FakeTMDB {
	f := &FakeTMDB{
		token:      token,
		totalPages: totalPages,
		perPage:    perPage,
		titles:     make(map[int]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /movie/popular", f.handleList)
	mux.HandleFunc("GET /movie/changes", f.handleChanges)
	mux.HandleFunc("GET /movie/{id}", f.handleDetail)
	f.server = httptest.NewServer(f.authorize(mux))
	return f
}

// URL returns the API root to configure as tmdb.baseURL
func (f *FakeTMDB) URL() string {
	return f.server.URL
}

// Close shuts the server down
func (f *FakeTMDB) Close() {
	f.server.Close()
}

// SetTitle overrides the title served for a movie id
func (f *FakeTMDB) SetTitle(id int, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[id] = title
}

// SetChanged sets the ids listed by the changes feed
func (f *FakeTMDB) SetChanged(ids ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = ids
}

// FailWith makes every request answer with status. Zero restores normal service.
func (f *FakeTMDB) FailWith(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStatus = status
}

// SetDelay holds every response for d
func (f *FakeTMDB) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Requests returns the request URIs received so far
func (f *FakeTMDB) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// RequestsFor returns the request URIs whose path is path
func (f *FakeTMDB) RequestsFor(path string) []string {
	var out []string
	for _, uri := range f.Requests() {
		if strings.HasPrefix(uri, path+"?") || uri == path {
			out = append(out, uri)
		}
	}
	return out
}

func (f *FakeTMDB) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.RequestURI())
		failStatus, delay := f.failStatus, f.delay
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if r.Header.Get("Authorization") != "Bearer "+f.token {
			http.Error(w, `{"status_code":7,"status_message":"Invalid API key"}`, http.StatusUnauthorized)
			return
		}
		if failStatus != 0 {
			http.Error(w, `{"status_code":11,"status_message":"Internal error"}`, failStatus)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeTMDB) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var items []string
	if page <= f.totalPages {
		for i := range f.perPage {
			id := (page-1)*f.perPage + i + 1
			items = append(items, f.movieJSON(id))
		}
	}
	writeJSON(w, fmt.Sprintf(`{"page":%d,"total_pages":%d,"total_results":%d,"results":[%s]}`,
		page, f.totalPages, f.totalPages*f.perPage, strings.Join(items, ",")))
}

func (f *FakeTMDB) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("start_date") == "" || r.URL.Query().Get("end_date") == "" {
		http.Error(w, `{"status_code":22,"status_message":"Invalid date range"}`, http.StatusUnprocessableEntity)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]string, 0, len(f.changed))
	for _, id := range f.changed {
		items = append(items, fmt.Sprintf(`{"id":%d,"adult":false}`, id))
	}
	writeJSON(w, fmt.Sprintf(`{"page":1,"total_pages":1,"total_results":%d,"results":[%s]}`,
		len(items), strings.Join(items, ",")))
}

func (f *FakeTMDB) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, f.movieJSON(id))
}

// movieJSON must be called with f.mu held
func (f *FakeTMDB) movieJSON(id int) string {
	title, ok := f.titles[id]
	if !ok {
		title = fmt.Sprintf("Movie %d", id)
	}
	return fmt.Sprintf(`{"id":%d,"title":%q,"popularity":%d.5,"adult":false}`, id, title, 100-id)
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.Header().Set("X-RateLimit-Remaining", "39")
	_, _ = fmt.Fprint(w, body)
}
