// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
	"github.com/xkilldash9x/consoledeploy/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Network() config.NetworkConfig {
	args := m.Called()
	return args.Get(0).(config.NetworkConfig)
}

func (m *MockConfig) Credentials() config.CredentialsConfig {
	args := m.Called()
	return args.Get(0).(config.CredentialsConfig)
}

func (m *MockConfig) Timings() config.TimingsConfig {
	args := m.Called()
	return args.Get(0).(config.TimingsConfig)
}

func (m *MockConfig) Automation() config.AutomationConfig {
	args := m.Called()
	return args.Get(0).(config.AutomationConfig)
}

func (m *MockConfig) Console() config.ConsoleConfig {
	args := m.Called()
	return args.Get(0).(config.ConsoleConfig)
}

func (m *MockConfig) Batch() config.BatchConfig {
	args := m.Called()
	return args.Get(0).(config.BatchConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

func (m *MockConfig) SetBatchMode(mode string) { m.Called(mode) }
func (m *MockConfig) SetBatchCatalog(path string) { m.Called(path) }
func (m *MockConfig) SetBatchInclude(ids []string) { m.Called(ids) }
func (m *MockConfig) SetBatchExclude(ids []string) { m.Called(ids) }
func (m *MockConfig) SetBatchReport(format, out string) { m.Called(format, out) }

func (m *MockConfig) SetTimingsLoginWait(d time.Duration) { m.Called(d) }
func (m *MockConfig) SetTimingsSiteInterval(d time.Duration) { m.Called(d) }
func (m *MockConfig) SetTimingsLoginRetryCount(n int) { m.Called(n) }
func (m *MockConfig) SetTimingsDeploymentWait(d time.Duration) {
	m.Called(d)
}

func (m *MockConfig) SetBrowserHeadless(b bool) { m.Called(b) }

// -- Browser Mocks --

// MockSessionFactory mocks schemas.SessionFactory.
type MockSessionFactory struct {
	mock.Mock
}

var _ schemas.SessionFactory = (*MockSessionFactory)(nil)

func (m *MockSessionFactory) NewSession(ctx context.Context) (schemas.Page, error) {
	args := m.Called(ctx)
	page, _ := args.Get(0).(schemas.Page)
	return page, args.Error(1)
}

// MockPage mocks schemas.Page.
type MockPage struct {
	mock.Mock
}

var _ schemas.Page = (*MockPage)(nil)

func (m *MockPage) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockPage) FindAll(ctx context.Context, kind schemas.SelectorKind, selector string) ([]schemas.Element, error) {
	args := m.Called(ctx, kind, selector)
	els, _ := args.Get(0).([]schemas.Element)
	return els, args.Error(1)
}

func (m *MockPage) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPage) DeleteCookies(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPage) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- Result Sink Mock --

// MockResultSink mocks schemas.ResultSink and the orchestrator's login observer.
type MockResultSink struct {
	mock.Mock
}

var _ schemas.ResultSink = (*MockResultSink)(nil)

func (m *MockResultSink) Observe(result schemas.SiteResult) {
	m.Called(result)
}

func (m *MockResultSink) ObserveLogin(siteID string, attempts int, authenticated bool) {
	m.Called(siteID, attempts, authenticated)
}
