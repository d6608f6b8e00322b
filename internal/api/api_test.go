package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquant/internal/backtest"
	"aquant/internal/config"
	"aquant/internal/optimizer"
	"aquant/internal/strategy"
	"aquant/internal/testutils"
)

func TestJWTManager(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	token, err := manager.GenerateToken("user-1", "alice", "researcher")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "researcher", claims.Role)
	assert.Equal(t, "aquant", claims.Issuer)

	t.Run("tampered token rejected", func(t *testing.T) {
		_, err := manager.ValidateToken(token + "x")
		assert.Error(t, err)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		other := NewJWTManager("other-secret", time.Hour)
		_, err := other.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		short := NewJWTManager("test-secret", time.Millisecond)
		expired, err := short.GenerateToken("user-1", "alice", "researcher")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = short.ValidateToken(expired)
		assert.Error(t, err)
	})
}

func TestAuthMiddleware(t *testing.T) {
	suite := testutils.NewTestSuite(t)
	defer suite.TearDown()

	manager := NewJWTManager("test-secret", time.Hour)
	helper := testutils.NewHTTPTestHelper(suite)
	helper.Router.GET("/protected", manager.AuthMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
			"username": c.GetString("username"),
			"role":     c.GetString("role"),
		}})
	})

	t.Run("missing header", func(t *testing.T) {
		helper.GET("/protected", nil).AssertStatus(http.StatusUnauthorized)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		helper.GET("/protected", map[string]string{
			"Authorization": "Basic abc",
		}).AssertStatus(http.StatusUnauthorized)
	})

	t.Run("invalid token", func(t *testing.T) {
		helper.GET("/protected", map[string]string{
			"Authorization": "Bearer not-a-token",
		}).AssertStatus(http.StatusUnauthorized)
	})

	t.Run("valid token passes identity through", func(t *testing.T) {
		token, err := manager.GenerateToken("user-1", "alice", "researcher")
		require.NoError(t, err)

		resp := helper.GET("/protected", map[string]string{
			"Authorization": "Bearer " + token,
		})
		resp.AssertStatus(http.StatusOK)
		resp.AssertContains("alice")
		resp.AssertContains("researcher")
	})
}

func TestRateLimiter(t *testing.T) {
	suite := testutils.NewTestSuite(t)
	defer suite.TearDown()

	limiter := NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             2,
	})

	helper := testutils.NewHTTPTestHelper(suite)
	helper.Router.GET("/ping", limiter.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	helper.GET("/ping", nil).AssertStatus(http.StatusOK)
	helper.GET("/ping", nil).AssertStatus(http.StatusOK)
	helper.GET("/ping", nil).AssertStatus(http.StatusTooManyRequests)
}

func TestRateLimiterDisabled(t *testing.T) {
	suite := testutils.NewTestSuite(t)
	defer suite.TearDown()

	limiter := NewRateLimiter(config.RateLimitConfig{Enabled: false, RequestsPerMinute: 60, Burst: 1})

	helper := testutils.NewHTTPTestHelper(suite)
	helper.Router.GET("/ping", limiter.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 10; i++ {
		helper.GET("/ping", nil).AssertStatus(http.StatusOK)
	}
}

func TestCORSMiddleware(t *testing.T) {
	suite := testutils.NewTestSuite(t)
	defer suite.TearDown()

	helper := testutils.NewHTTPTestHelper(suite)
	helper.Router.Use(CORSMiddleware(config.CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization"},
	}))
	helper.Router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	resp := helper.GET("/ping", nil)
	resp.AssertStatus(http.StatusOK)
	assert.Equal(t, "*", resp.Headers.Get("Access-Control-Allow-Origin"))

	preflight := helper.Request("OPTIONS", "/ping", nil, nil)
	preflight.AssertStatus(http.StatusNoContent)
}

func TestHandlersWithoutDatabase(t *testing.T) {
	suite := testutils.NewTestSuite(t)
	defer suite.TearDown()

	helper := testutils.NewHTTPTestHelper(suite)

	marketHandler := NewMarketHandler(nil, nil)
	helper.Router.GET("/symbols", marketHandler.ListSymbols)
	helper.GET("/symbols", nil).AssertStatus(http.StatusServiceUnavailable)

	authHandler := NewAuthHandler(NewJWTManager("k", time.Hour), nil)
	helper.Router.POST("/login", authHandler.Login)
	helper.POST("/login", gin.H{"username": "a", "password": "b"}, nil).
		AssertStatus(http.StatusServiceUnavailable)
}

func TestStrategyListHandler(t *testing.T) {
	suite := testutils.NewTestSuite(t)
	defer suite.TearDown()

	handler := NewStrategyHandler(strategy.NewRegistry(), nil)
	helper := testutils.NewHTTPTestHelper(suite)
	helper.Router.GET("/strategy", handler.List)

	resp := helper.GET("/strategy", nil)
	resp.AssertStatus(http.StatusOK)
	resp.AssertContains("momentum")
	resp.AssertContains("ma_cross")
}

func TestSweepEndpoints(t *testing.T) {
	suite := testutils.NewTestSuite(t)
	defer suite.TearDown()

	registry := strategy.NewRegistry()
	sweeper := optimizer.NewSweeper(registry, 2, suite.Logger)
	handler := NewSweepHandler(sweeper, nil, backtest.DefaultConfig(), nil)

	helper := testutils.NewHTTPTestHelper(suite)
	helper.Router.GET("/sweep/:id", handler.Get)
	helper.Router.GET("/sweep/:id/results", handler.Results)

	t.Run("unknown job", func(t *testing.T) {
		helper.GET("/sweep/no-such-job", nil).AssertStatus(http.StatusNotFound)
	})

	closes := map[string][]float64{"600519.SH": make([]float64, 60)}
	for i := range closes["600519.SH"] {
		closes["600519.SH"][i] = 100 + float64(i)
	}
	prices := testutils.PriceTable(t, "2024-01-02", closes)

	grid, err := optimizer.GridFromBounds(map[string][2]float64{
		"window": {5, 10},
	}, 2)
	require.NoError(t, err)

	job, err := sweeper.Submit(optimizer.Request{
		Strategy: "momentum",
		Grid:     grid,
		Config:   backtest.DefaultConfig(),
		Prices:   prices,
	})
	require.NoError(t, err)

	testutils.WaitForCondition(t, func() bool {
		snap, err := sweeper.Job(job.ID)
		return err == nil && snap.Status.Terminal()
	}, 30*time.Second, "sweep job did not finish")

	resp := helper.GET(fmt.Sprintf("/sweep/%s", job.ID), nil)
	resp.AssertStatus(http.StatusOK)
	resp.AssertContains(job.ID)

	helper.GET(fmt.Sprintf("/sweep/%s/results", job.ID), nil).AssertStatus(http.StatusOK)
}

func TestProgressHub(t *testing.T) {
	hub := NewProgressHub()

	ch := hub.Subscribe("run-1")
	hub.Publish("run-1", RunEvent{RunID: "run-1", Status: "running"})
	hub.Publish("run-2", RunEvent{RunID: "run-2", Status: "running"})

	select {
	case event := <-ch:
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, "running", event.Status)
	case <-time.After(time.Second):
		t.Fatal("expected event on subscriber channel")
	}

	// run-2 的事件不应出现在 run-1 的订阅里
	select {
	case event := <-ch:
		t.Fatalf("unexpected event: %+v", event)
	default:
	}

	hub.Unsubscribe("run-1", ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}
