package integration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	ctx    context.Context
	cancel context.CancelFunc
)

func TestSyncIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "TMDB Sync Integration Suite")
}

var _ = BeforeSuite(func() {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(GinkgoWriter),
		zapcore.DebugLevel,
	)
	logger := zapr.NewLogger(zap.New(core))
	slog.SetDefault(slog.New(logr.ToSlogHandler(logger)))

	ctx, cancel = context.WithCancel(logr.NewContext(context.Background(), logger))
})

var _ = AfterSuite(func() {
	cancel()
})

// createTempDir creates a temporary directory for test files
func createTempDir(prefix string) string {
	dir, err := os.MkdirTemp("", prefix)
	Expect(err).NotTo(HaveOccurred())
	return dir
}

// cleanupTempDir removes a temporary directory
func cleanupTempDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		By(fmt.Sprintf("Warning: failed to cleanup temp dir %s: %v", dir, err))
	}
}
