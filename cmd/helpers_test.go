package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/config"
	"github.com/xkilldash9x/consoledeploy/internal/observability"
	"github.com/xkilldash9x/consoledeploy/internal/store"
)

// resetForTest isolates a command test: a temp working directory and home, no
// CONSOLEDEPLOY_* leakage, a silent logger and the real hooks restored afterwards.
func resetForTest(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	for _, key := range []string{
		"CONSOLEDEPLOY_CREDENTIALS_USERNAME",
		"CONSOLEDEPLOY_CREDENTIALS_PASSWORD",
		"CONSOLEDEPLOY_DATABASE_URL",
	} {
		t.Setenv(key, "")
	}

	cfgFile = ""
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})

	factory, signals, history := newSessionFactory, notifySignals, openHistory
	t.Cleanup(func() {
		newSessionFactory, notifySignals, openHistory = factory, signals, history
		cfgFile = ""
		observability.ResetForTest()
	})
	return dir
}

// executeCommand runs a fresh command tree and returns its combined output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const testCatalog = `{"urls": {
  "en": "https://en.example.test/admin/",
  "jp": "https://jp.example.test/admin/",
  "tw": "https://tw.example.test/admin/"
}}`

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("CONSOLEDEPLOY_CREDENTIALS_USERNAME", "admin")
	t.Setenv("CONSOLEDEPLOY_CREDENTIALS_PASSWORD", "s3cret")
}

// stubBrowser replaces the browser with factory and records shutdowns.
func stubBrowser(t *testing.T, factory schemas.SessionFactory) *int {
	t.Helper()
	shutdowns := new(int)
	newSessionFactory = func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.SessionFactory, func(context.Context) error) {
		return factory, func(context.Context) error {
			*shutdowns++
			return nil
		}
	}
	return shutdowns
}

// fakeHistory is an in-memory historyStore.
type fakeHistory struct {
	mu      sync.Mutex
	saved   []*schemas.BatchReport
	runs    []store.RunSummary
	records []store.SiteRecord
	gotSite string
	gotURL  string
	closed  bool
	err     error
}

func (f *fakeHistory) SaveReport(ctx context.Context, report *schemas.BatchReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, report)
	return f.err
}

func (f *fakeHistory) RecentRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], f.err
	}
	return f.runs, f.err
}

func (f *fakeHistory) SiteHistory(ctx context.Context, siteID string, limit int) ([]store.SiteRecord, error) {
	f.gotSite = siteID
	return f.records, f.err
}

func stubHistory(t *testing.T, h *fakeHistory) {
	t.Helper()
	openHistory = func(ctx context.Context, url string, logger *zap.Logger) (historyStore, func(), error) {
		h.gotURL = url
		return h, func() { h.closed = true }, nil
	}
}
