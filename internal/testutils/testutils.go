package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquant/internal/backtest"
	"aquant/internal/logger"
	"aquant/internal/market"
)

// TestSuite 测试套件
type TestSuite struct {
	T       *testing.T
	Logger  logger.Logger
	TempDir string
	Cleanup []func()
}

// NewTestSuite 创建测试套件
func NewTestSuite(t *testing.T) *TestSuite {
	tempDir, err := os.MkdirTemp("", "aquant_test_*")
	require.NoError(t, err)

	suite := &TestSuite{
		T: t,
		Logger: logger.NewLogger(logger.Config{
			Level:  logger.LevelError, // 测试时减少日志输出
			Format: logger.FormatText,
			Output: "stdout",
		}),
		TempDir: tempDir,
		Cleanup: []func(){},
	}
	suite.AddCleanup(func() {
		os.RemoveAll(tempDir)
	})
	return suite
}

// AddCleanup 添加清理函数
func (s *TestSuite) AddCleanup(cleanup func()) {
	s.Cleanup = append(s.Cleanup, cleanup)
}

// TearDown 清理测试环境
func (s *TestSuite) TearDown() {
	for i := len(s.Cleanup) - 1; i >= 0; i-- {
		s.Cleanup[i]()
	}
}

// CreateTempFile 创建临时文件
func (s *TestSuite) CreateTempFile(name, content string) string {
	filePath := filepath.Join(s.TempDir, name)
	require.NoError(s.T, os.WriteFile(filePath, []byte(content), 0644))
	return filePath
}

// CreateTempDir 创建临时目录
func (s *TestSuite) CreateTempDir(name string) string {
	dirPath := filepath.Join(s.TempDir, name)
	require.NoError(s.T, os.MkdirAll(dirPath, 0755))
	return dirPath
}

// Date parses a trading date in the standard layout.
func Date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := market.ParseDate(s)
	require.NoError(t, err)
	return d
}

// PriceTable builds a table from per-symbol close series. Bars start at
// startDate and advance one weekday per close; open/high/low derive from the
// close and prev_close chains from the prior bar.
func PriceTable(t *testing.T, startDate string, closes map[string][]float64) *market.PriceTable {
	t.Helper()
	start := Date(t, startDate)

	bars := make([]market.PricePoint, 0)
	for symbol, series := range closes {
		date := start
		prev := series[0]
		for i, close := range series {
			for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
				date = date.AddDate(0, 0, 1)
			}
			if i == 0 {
				prev = close
			}
			bars = append(bars, market.PricePoint{
				Symbol:    symbol,
				Date:      date,
				Open:      prev,
				High:      maxFloat(prev, close) * 1.001,
				Low:       minFloat(prev, close) * 0.999,
				Close:     close,
				PrevClose: prev,
				Volume:    1_000_000,
			})
			prev = close
			date = date.AddDate(0, 0, 1)
		}
	}
	return market.NewPriceTable(bars)
}

// WeightSignal builds one target-weight signal.
func WeightSignal(t *testing.T, symbol, date string, weight float64) backtest.Signal {
	t.Helper()
	return backtest.Signal{
		Symbol: symbol,
		Date:   Date(t, date),
		Kind:   backtest.SignalWeight,
		Weight: weight,
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// HTTPTestHelper HTTP测试助手
type HTTPTestHelper struct {
	Router *gin.Engine
	Suite  *TestSuite
}

// NewHTTPTestHelper 创建HTTP测试助手
func NewHTTPTestHelper(suite *TestSuite) *HTTPTestHelper {
	gin.SetMode(gin.TestMode)
	return &HTTPTestHelper{
		Router: gin.New(),
		Suite:  suite,
	}
}

// GET 发送GET请求
func (h *HTTPTestHelper) GET(path string, headers map[string]string) *HTTPResponse {
	return h.Request("GET", path, nil, headers)
}

// POST 发送POST请求
func (h *HTTPTestHelper) POST(path string, body interface{}, headers map[string]string) *HTTPResponse {
	return h.Request("POST", path, body, headers)
}

// Request 发送HTTP请求
func (h *HTTPTestHelper) Request(method, path string, body interface{}, headers map[string]string) *HTTPResponse {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(h.Suite.T, err)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)

	return &HTTPResponse{
		StatusCode: w.Code,
		Body:       w.Body.Bytes(),
		Headers:    w.Header(),
		suite:      h.Suite,
	}
}

// HTTPResponse HTTP响应
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	suite      *TestSuite
}

// AssertStatus 断言状态码
func (r *HTTPResponse) AssertStatus(expectedStatus int) *HTTPResponse {
	assert.Equal(r.suite.T, expectedStatus, r.StatusCode, "body: %s", string(r.Body))
	return r
}

// AssertContains 断言响应包含指定内容
func (r *HTTPResponse) AssertContains(substring string) *HTTPResponse {
	assert.Contains(r.suite.T, string(r.Body), substring)
	return r
}

// GetJSON 获取JSON响应
func (r *HTTPResponse) GetJSON(target interface{}) error {
	return json.Unmarshal(r.Body, target)
}

// WaitForCondition 等待条件满足
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}
