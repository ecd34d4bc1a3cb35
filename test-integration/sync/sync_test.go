package integration

import (
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/stacklok/tmdb-sync/internal/api/v1"
	"github.com/stacklok/tmdb-sync/internal/config"
	"github.com/stacklok/tmdb-sync/internal/cursor"
	"github.com/stacklok/tmdb-sync/internal/status"
	"github.com/stacklok/tmdb-sync/test-integration/sync/helpers"
)

const (
	testToken   = "integration-token"
	totalPages  = 3
	perPage     = 4
	runDeadline = 15 * time.Second
)

var _ = Describe("Sync Service", Label("sync"), func() {
	var (
		tempDir      string
		tmdb         *helpers.FakeTMDB
		serverHelper *helpers.ServerTestHelper
		configPath   string
	)

	startServer := func() {
		serverHelper = helpers.NewServerTestHelper(ctx, configPath)
		Expect(serverHelper.StartServer()).To(Succeed())
	}

	BeforeEach(func() {
		tempDir = createTempDir("tmdb-sync-integration-")
		tmdb = helpers.NewFakeTMDB(testToken, totalPages, perPage)
		configPath = helpers.WriteConfigYAML(tempDir, helpers.ConfigOptions{
			BaseURL: tmdb.URL(),
			Token:   testToken,
			Entities: []helpers.EntityOptions{
				{Name: "movie_popular"},
				{Name: "movie_changes"},
			},
		})
		startServer()
	})

	AfterEach(func() {
		if serverHelper != nil {
			Expect(serverHelper.StopServer()).To(Succeed())
		}
		tmdb.Close()
		cleanupTempDir(tempDir)
	})

	Context("Health endpoints", func() {
		It("should report healthy and ready", func() {
			resp, err := serverHelper.GetHealth()
			Expect(err).NotTo(HaveOccurred())
			_ = resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, err = serverHelper.GetReadiness()
			Expect(err).NotTo(HaveOccurred())
			_ = resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Context("Full scan", func() {
		It("should persist every page and reset the cursor on completion", func() {
			runID := serverHelper.MustStartSync("movie_popular", "")
			run := serverHelper.WaitForRun(runID, runDeadline)

			Expect(run.Phase).To(Equal(status.PhaseCompleted))
			Expect(run.Pages).To(Equal(totalPages))
			Expect(run.Inserted).To(Equal(totalPages * perPage))
			Expect(run.Failed).To(BeZero())
			Expect(run.Cancelled).To(BeFalse())

			c := serverHelper.CursorFor("movie_popular")
			Expect(c).NotTo(BeNil())
			Expect(c.Status).To(Equal(cursor.StatusIdle))
			Expect(c.Token).To(BeEmpty())
			Expect(c.Inserted).To(BeEquivalentTo(totalPages * perPage))

			Expect(tmdb.RequestsFor("/movie/popular")).To(HaveLen(totalPages))
		})

		It("should skip unchanged records and update changed ones", func() {
			first := serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", ""), runDeadline)
			Expect(first.Phase).To(Equal(status.PhaseCompleted))

			tmdb.SetTitle(2, "Renamed Movie")
			second := serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", ""), runDeadline)

			Expect(second.Phase).To(Equal(status.PhaseCompleted))
			Expect(second.Inserted).To(BeZero())
			Expect(second.Updated).To(Equal(1))
			Expect(second.Skipped).To(Equal(totalPages*perPage - 1))
		})

		It("should record terminal runs in the run history", func() {
			runID := serverHelper.MustStartSync("movie_popular", "")
			serverHelper.WaitForRun(runID, runDeadline)

			Eventually(func(g Gomega) {
				resp, err := serverHelper.GetLatestRuns()
				g.Expect(err).NotTo(HaveOccurred())
				g.Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var body v1.RunsResponse
				helpers.DecodeJSON(resp, &body)
				g.Expect(body.Runs).To(ContainElement(And(
					HaveField("ID", runID),
					HaveField("Phase", status.PhaseCompleted),
				)))
			}, 5*time.Second, 20*time.Millisecond).Should(Succeed())
		})
	})

	Context("Bounded runs", func() {
		It("should stop after maxPages and resume at the next page", func() {
			run := serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", "maxPages=1"), runDeadline)
			Expect(run.Phase).To(Equal(status.PhaseCompleted))
			Expect(run.Pages).To(Equal(1))

			c := serverHelper.CursorFor("movie_popular")
			Expect(c.Status).To(Equal(cursor.StatusIdle))
			Expect(c.Token).To(Equal("2"))
			Expect(c.Page).To(Equal(1))

			run = serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", "maxPages=1"), runDeadline)
			Expect(run.Pages).To(Equal(1))
			Expect(run.Inserted).To(Equal(perPage))
			requests := tmdb.RequestsFor("/movie/popular")
			Expect(requests[len(requests)-1]).To(ContainSubstring("page=2"))

			run = serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", ""), runDeadline)
			Expect(run.Pages).To(Equal(1), "only the last page remains")
			Expect(serverHelper.CursorFor("movie_popular").Token).To(BeEmpty())
		})

		It("should start from the first page when reset is requested", func() {
			serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", "maxPages=2"), runDeadline)
			Expect(serverHelper.CursorFor("movie_popular").Token).To(Equal("3"))

			run := serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", "maxPages=1&reset=true"), runDeadline)
			Expect(run.Pages).To(Equal(1))
			requests := tmdb.RequestsFor("/movie/popular")
			Expect(requests[len(requests)-1]).To(ContainSubstring("page=1"))
			Expect(serverHelper.CursorFor("movie_popular").Token).To(Equal("2"))
		})

		It("should reject an invalid page limit", func() {
			resp, err := serverHelper.StartSync("movie_popular", "maxPages=lots")
			Expect(err).NotTo(HaveOccurred())
			_ = resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Context("Incremental sync", func() {
		It("should hydrate changed records and advance the window", func() {
			tmdb.SetChanged(5, 6)

			run := serverHelper.WaitForRun(serverHelper.MustStartSync("movie_changes", ""), runDeadline)
			Expect(run.Phase).To(Equal(status.PhaseCompleted))
			Expect(run.Mode).To(Equal(status.ModeIncremental))
			Expect(run.Inserted).To(Equal(2))

			changes := tmdb.RequestsFor("/movie/changes")
			Expect(changes).To(HaveLen(1))
			Expect(changes[0]).To(And(ContainSubstring("start_date="), ContainSubstring("end_date=")))
			Expect(tmdb.RequestsFor("/movie/5")).To(HaveLen(1))
			Expect(tmdb.RequestsFor("/movie/6")).To(HaveLen(1))

			c := serverHelper.CursorFor("movie_changes")
			Expect(c.Status).To(Equal(cursor.StatusIdle))
			Expect(c.WindowStart.IsZero()).To(BeFalse())
			Expect(c.WindowStart).To(BeTemporally("<", time.Now()))
		})
	})

	Context("Upstream failures", func() {
		It("should fail the run and keep the last committed cursor", func() {
			serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", "maxPages=1"), runDeadline)

			tmdb.FailWith(http.StatusInternalServerError)
			run := serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", ""), runDeadline)
			Expect(run.Phase).To(Equal(status.PhaseFailed))
			Expect(run.Error).NotTo(BeEmpty())

			c := serverHelper.CursorFor("movie_popular")
			Expect(c.Status).To(Equal(cursor.StatusFailed))
			Expect(c.Token).To(Equal("2"))

			tmdb.FailWith(0)
			run = serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", ""), runDeadline)
			Expect(run.Phase).To(Equal(status.PhaseCompleted))
			Expect(run.Pages).To(Equal(totalPages - 1))
		})
	})

	Context("Run control", func() {
		It("should refuse a second run of the same entity and honour cancellation", func() {
			tmdb.SetDelay(300 * time.Millisecond)
			runID := serverHelper.MustStartSync("movie_popular", "")

			resp, err := serverHelper.StartSync("movie_popular", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			var conflict v1.StartSyncResponse
			helpers.DecodeJSON(resp, &conflict)
			Expect(conflict.RunID).To(Equal(runID))

			resp, err = serverHelper.CancelSync("movie_popular")
			Expect(err).NotTo(HaveOccurred())
			_ = resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			run := serverHelper.WaitForRun(runID, runDeadline)
			Expect(run.Cancelled).To(BeTrue())
			Expect(run.Pages).To(BeNumerically("<", totalPages))
			Expect(serverHelper.CursorFor("movie_popular").Status).To(Equal(cursor.StatusIdle))

			resp, err = serverHelper.CancelSync("movie_popular")
			Expect(err).NotTo(HaveOccurred())
			_ = resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict), "nothing left to cancel")
		})

		It("should return not found for unconfigured and unknown entity types", func() {
			for _, entity := range []string{"tv_popular", "not_an_entity"} {
				resp, err := serverHelper.StartSync(entity, "")
				Expect(err).NotTo(HaveOccurred())
				_ = resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound), entity)
			}
		})
	})

	DescribeTable("Resuming after a restart",
		func(backend string) {
			Expect(serverHelper.StopServer()).To(Succeed())
			configPath = helpers.WriteConfigYAML(tempDir, helpers.ConfigOptions{
				BaseURL:  tmdb.URL(),
				Token:    testToken,
				Cursors:  backend,
				Entities: []helpers.EntityOptions{{Name: "movie_popular", MaxPages: 1}},
			})
			startServer()

			serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", ""), runDeadline)
			Expect(serverHelper.CursorFor("movie_popular").Token).To(Equal("2"))

			By("restarting the service on the same data directory")
			Expect(serverHelper.StopServer()).To(Succeed())
			startServer()

			Expect(serverHelper.CursorFor("movie_popular").Token).To(Equal("2"))
			serverHelper.WaitForRun(serverHelper.MustStartSync("movie_popular", ""), runDeadline)
			requests := tmdb.RequestsFor("/movie/popular")
			Expect(requests).To(HaveLen(2))
			Expect(strings.Join(requests, " ")).To(And(ContainSubstring("page=1"), ContainSubstring("page=2")))
		},
		Entry("with file cursors", config.StorageTypeFile),
		Entry("with SQLite cursors", config.StorageTypeSQLite),
	)
})
