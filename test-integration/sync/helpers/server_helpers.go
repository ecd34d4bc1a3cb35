package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onsi/gomega"

	v1 "github.com/stacklok/tmdb-sync/internal/api/v1"
	"github.com/stacklok/tmdb-sync/internal/app"
	"github.com/stacklok/tmdb-sync/internal/config"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/status"
)

// ServerTestHelper manages the sync service lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	httpClient *http.Client
	app        *app.SyncApp
	server     *httptest.Server
}

// NewServerTestHelper creates a new server test helper for the config at configPath
func NewServerTestHelper(ctx context.Context, configPath string) *ServerTestHelper {
	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// StartServer builds the application and serves its HTTP surface on a
// loopback listener. Background schedules are not started.
func (s *ServerTestHelper) StartServer() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	syncApp, err := app.NewSyncApp(s.ctx, app.WithConfig(cfg), app.WithAddress("127.0.0.1:0"))
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}

	s.app = syncApp
	s.server = httptest.NewServer(syncApp.GetHTTPServer().Handler)
	return nil
}

// StopServer stops the HTTP listener and the application
func (s *ServerTestHelper) StopServer() error {
	if s.server != nil {
		s.server.Close()
	}
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// GetBaseURL returns the base URL of the server
func (s *ServerTestHelper) GetBaseURL() string {
	return s.server.URL
}

// GetHealth makes a GET request to /health
func (s *ServerTestHelper) GetHealth() (*http.Response, error) {
	return s.httpClient.Get(s.server.URL + "/health")
}

// GetReadiness makes a GET request to /readiness
func (s *ServerTestHelper) GetReadiness() (*http.Response, error) {
	return s.httpClient.Get(s.server.URL + "/readiness")
}

// StartSync makes a POST request to /v1/sync/{entity} with the given query
func (s *ServerTestHelper) StartSync(entity, query string) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/v1/sync/%s", s.server.URL, entity)
	if query != "" {
		endpoint += "?" + query
	}
	return s.httpClient.Post(endpoint, "application/json", nil)
}

// CancelSync makes a DELETE request to /v1/sync/{entity}
func (s *ServerTestHelper) CancelSync(entity string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodDelete, fmt.Sprintf("%s/v1/sync/%s", s.server.URL, entity), nil)
	if err != nil {
		return nil, err
	}
	return s.httpClient.Do(req)
}

// GetRun makes a GET request to /v1/runs/{id}
func (s *ServerTestHelper) GetRun(id string) (*http.Response, error) {
	return s.httpClient.Get(fmt.Sprintf("%s/v1/runs/%s", s.server.URL, id))
}

// GetActiveRuns makes a GET request to /v1/runs
func (s *ServerTestHelper) GetActiveRuns() (*http.Response, error) {
	return s.httpClient.Get(s.server.URL + "/v1/runs")
}

// GetLatestRuns makes a GET request to /v1/runs/latest
func (s *ServerTestHelper) GetLatestRuns() (*http.Response, error) {
	return s.httpClient.Get(s.server.URL + "/v1/runs/latest")
}

// GetCursors makes a GET request to /v1/cursors
func (s *ServerTestHelper) GetCursors() (*http.Response, error) {
	return s.httpClient.Get(s.server.URL + "/v1/cursors")
}

// MustStartSync starts a sync and returns its run id
func (s *ServerTestHelper) MustStartSync(entity, query string) string {
	resp, err := s.StartSync(entity, query)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusAccepted), "sync should be accepted")

	var body v1.StartSyncResponse
	DecodeJSON(resp, &body)
	gomega.Expect(body.RunID).NotTo(gomega.BeEmpty())
	return body.RunID
}

// WaitForRun polls the run until it reaches a terminal phase and returns it
func (s *ServerTestHelper) WaitForRun(id string, timeout time.Duration) status.SyncRun {
	var run status.SyncRun
	gomega.Eventually(func(g gomega.Gomega) {
		resp, err := s.GetRun(id)
		g.Expect(err).NotTo(gomega.HaveOccurred())
		g.Expect(resp.StatusCode).To(gomega.Equal(http.StatusOK))
		run = status.SyncRun{}
		g.Expect(json.NewDecoder(resp.Body).Decode(&run)).To(gomega.Succeed())
		_ = resp.Body.Close()
		g.Expect(run.Phase.Terminal()).To(gomega.BeTrue(), "run %s is still %s", id, run.Phase)

		// the entity accepts a new run only once it has left the active set
		resp, err = s.GetActiveRuns()
		g.Expect(err).NotTo(gomega.HaveOccurred())
		var active v1.RunsResponse
		g.Expect(json.NewDecoder(resp.Body).Decode(&active)).To(gomega.Succeed())
		_ = resp.Body.Close()
		g.Expect(active.Runs).NotTo(gomega.ContainElement(gomega.HaveField("ID", id)))
	}, timeout, 20*time.Millisecond).Should(gomega.Succeed())
	return run
}

// CursorFor returns the stored cursor of entity, or nil if it has none
func (s *ServerTestHelper) CursorFor(entity string) *cursor.Cursor {
	resp, err := s.GetCursors()
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusOK))

	var body v1.CursorsResponse
	DecodeJSON(resp, &body)
	for _, c := range body.Cursors {
		if string(c.EntityType) == entity {
			return c
		}
	}
	return nil
}

// DecodeJSON decodes and closes the response body
func DecodeJSON(resp *http.Response, v any) {
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(json.Unmarshal(data, v)).To(gomega.Succeed(), "body: %s", string(data))
}

// ConfigOptions holds the variable parts of a test configuration
type ConfigOptions struct {
	BaseURL    string
	Token      string
	Cursors    string
	Entities   []EntityOptions
	MaxRuns    int
	RunTimeout time.Duration
}

// EntityOptions configures one entity in a test configuration
type EntityOptions struct {
	Name     string
	Mode     string
	MaxPages int
}

// WriteConfigYAML writes a token file and a YAML configuration into dir and
// returns the configuration path
func WriteConfigYAML(dir string, opts ConfigOptions) string {
	tokenPath := filepath.Join(dir, "token")
	gomega.Expect(os.WriteFile(tokenPath, []byte(opts.Token+"\n"), 0600)).To(gomega.Succeed())

	cursors := opts.Cursors
	if cursors == "" {
		cursors = config.StorageTypeFile
	}

	var b strings.Builder
	fmt.Fprintf(&b, `tmdb:
  baseURL: %s
  tokenFile: %s
  rateLimit:
    requestsPerSecond: 1000
    burst: 50
  retry:
    initialInterval: 10ms
    maxInterval: 50ms
    maxRetries: 2
entities:
`, opts.BaseURL, tokenPath)
	for _, e := range opts.Entities {
		fmt.Fprintf(&b, "  - name: %s\n", e.Name)
		if e.Mode != "" {
			fmt.Fprintf(&b, "    mode: %s\n", e.Mode)
		}
		if e.MaxPages > 0 {
			fmt.Fprintf(&b, "    maxPages: %d\n", e.MaxPages)
		}
	}
	b.WriteString("sync:\n")
	if opts.MaxRuns > 0 {
		fmt.Fprintf(&b, "  maxConcurrentRuns: %d\n", opts.MaxRuns)
	}
	if opts.RunTimeout > 0 {
		fmt.Fprintf(&b, "  runTimeout: %s\n", opts.RunTimeout)
	}
	b.WriteString("  reporterQueueSize: 16\n")
	fmt.Fprintf(&b, `storage:
  documents: memory
  cursors: %s
  dataDir: %s
`, cursors, filepath.Join(dir, "data"))

	configPath := filepath.Join(dir, "config.yaml")
	gomega.Expect(os.WriteFile(configPath, []byte(b.String()), 0600)).To(gomega.Succeed())
	return configPath
}
