package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"aquant/internal/backtest"
	"aquant/internal/cache"
	"aquant/internal/indicator"
	"aquant/internal/ingest"
	"aquant/internal/logger"
	"aquant/internal/market"
	marketstore "aquant/internal/market/storage"
	"aquant/internal/monitor"
	"aquant/internal/optimizer"
	"aquant/internal/storage"
	"aquant/internal/strategy"
)

const reportCacheTTL = time.Hour

// MarketHandler 行情数据接口
type MarketHandler struct {
	store     *marketstore.Storage
	scheduler *ingest.Scheduler
}

// NewMarketHandler creates the market data handler.
func NewMarketHandler(store *marketstore.Storage, scheduler *ingest.Scheduler) *MarketHandler {
	return &MarketHandler{store: store, scheduler: scheduler}
}

// @Summary List symbols with stored bars
// @Tags Market
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]string}
// @Router /market/symbols [get]
func (h *MarketHandler) ListSymbols(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}
	symbols, err := h.store.Symbols(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: symbols})
}

// @Summary List instruments
// @Tags Market
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]market.Instrument}
// @Router /market/instruments [get]
func (h *MarketHandler) ListInstruments(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}
	instruments, err := h.store.ListInstruments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: instruments})
}

// @Summary Get daily bars for one symbol
// @Tags Market
// @Produce json
// @Security BearerAuth
// @Param symbol path string true "Symbol, e.g. 600519.SH"
// @Param start query string false "Start date (2006-01-02)"
// @Param end query string false "End date (2006-01-02)"
// @Success 200 {object} Response{data=[]market.PricePoint}
// @Router /market/bars/{symbol} [get]
func (h *MarketHandler) GetBars(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}
	symbol := c.Param("symbol")

	start, end, err := parseDateRange(c.Query("start"), c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	bars, err := h.store.LoadBars(c.Request.Context(), []string{symbol}, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: bars})
}

// @Summary Trigger an EOD data refresh
// @Tags Market
// @Produce json
// @Security BearerAuth
// @Success 202 {object} Response
// @Router /market/backfill [post]
func (h *MarketHandler) TriggerBackfill(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "scheduler unavailable"})
		return
	}
	go func() {
		if err := h.scheduler.RunNow("eod_refresh"); err != nil {
			logger.Error("Manual backfill failed", "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, Response{Success: true, Data: gin.H{"message": "refresh scheduled"}})
}

// StrategyHandler 策略接口
type StrategyHandler struct {
	registry *strategy.Registry
	store    *marketstore.Storage
}

// NewStrategyHandler creates the strategy handler.
func NewStrategyHandler(registry *strategy.Registry, store *marketstore.Storage) *StrategyHandler {
	return &StrategyHandler{registry: registry, store: store}
}

// @Summary List registered strategies
// @Tags Strategy
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]string}
// @Router /strategy [get]
func (h *StrategyHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.registry.Names()})
}

// PreviewRequest 信号预览请求
type PreviewRequest struct {
	Strategy string             `json:"strategy" binding:"required"`
	Params   map[string]float64 `json:"params"`
	Symbols  []string           `json:"symbols" binding:"required,min=1"`
	Start    string             `json:"start"`
	End      string             `json:"end"`
	Limit    int                `json:"limit"`
}

// @Summary Preview the signals a strategy would generate
// @Tags Strategy
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PreviewRequest true "Preview parameters"
// @Success 200 {object} Response{data=[]backtest.Signal}
// @Router /strategy/preview [post]
func (h *StrategyHandler) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}

	start, end, err := parseDateRange(req.Start, req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	prices, err := h.store.LoadTable(ctx, req.Symbols, start, end)
	if err != nil {
		respondError(c, err)
		return
	}

	strat, err := h.registry.Create(req.Strategy, strategy.Params(req.Params))
	if err != nil {
		respondError(c, err)
		return
	}

	signals, err := strat.GenerateSignals(ctx, prices, indicator.NewService(prices))
	if err != nil {
		respondError(c, err)
		return
	}

	limit := req.Limit
	if limit <= 0 || limit > len(signals) {
		limit = len(signals)
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: signals[:limit]})
}

// BacktestHandler 回测接口
type BacktestHandler struct {
	registry *strategy.Registry
	market   *marketstore.Storage
	runs     *storage.RunStore
	cache    cache.Cache
	metrics  *monitor.Metrics
	defaults *backtest.Config
	hub      *ProgressHub
}

// NewBacktestHandler creates the backtest handler.
func NewBacktestHandler(
	registry *strategy.Registry,
	marketStore *marketstore.Storage,
	runs *storage.RunStore,
	cacheBackend cache.Cache,
	metrics *monitor.Metrics,
	defaults *backtest.Config,
	hub *ProgressHub,
) *BacktestHandler {
	return &BacktestHandler{
		registry: registry,
		market:   marketStore,
		runs:     runs,
		cache:    cacheBackend,
		metrics:  metrics,
		defaults: defaults,
		hub:      hub,
	}
}

// RunRequest 回测提交请求
type RunRequest struct {
	Strategy string             `json:"strategy" binding:"required"`
	Params   map[string]float64 `json:"params"`
	Symbols  []string           `json:"symbols" binding:"required,min=1"`
	Start    string             `json:"start"`
	End      string             `json:"end"`

	// Config 可选的引擎配置覆盖，缺省使用服务端默认配置
	Config *backtest.Config `json:"config"`
}

// @Summary Submit a backtest run
// @Tags Backtest
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RunRequest true "Run parameters"
// @Success 202 {object} Response
// @Failure 400 {object} Response
// @Router /backtest/run [post]
func (h *BacktestHandler) SubmitRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if h.market == nil || h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}

	cfg := h.defaults.Clone()
	if req.Config != nil {
		cfg = req.Config.Clone()
	}
	cfg.StartDate = req.Start
	cfg.EndDate = req.End

	// 引擎构造即完成配置校验，提交前失败可同步返回
	engine, err := backtest.NewEngine(cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.registry.Create(req.Strategy, strategy.Params(req.Params)); err != nil {
		respondError(c, err)
		return
	}

	runID := uuid.New().String()
	rec := &storage.RunRecord{
		ID:        runID,
		Strategy:  req.Strategy,
		Params:    req.Params,
		Status:    storage.RunPending,
		Config:    cfg,
		CreatedAt: time.Now(),
	}
	if err := h.runs.CreateRun(c.Request.Context(), rec); err != nil {
		respondError(c, err)
		return
	}

	go h.executeRun(runID, req, engine)

	c.JSON(http.StatusAccepted, Response{Success: true, Data: gin.H{"run_id": runID}})
}

// executeRun loads data, generates signals and runs the engine in the
// background. Failures land on the run row, never on the HTTP response.
func (h *BacktestHandler) executeRun(runID string, req RunRequest, engine *backtest.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	start := time.Now()
	fail := func(err error) {
		logger.Error("Backtest run failed", "run_id", runID, "error", err)
		_ = h.runs.MarkFailed(ctx, runID, err)
		h.metrics.ObserveRun(req.Strategy, nil, time.Since(start), err)
		h.hub.Publish(runID, RunEvent{RunID: runID, Status: string(storage.RunFailed), Error: err.Error()})
	}

	if err := h.runs.MarkRunning(ctx, runID); err != nil {
		fail(err)
		return
	}
	h.hub.Publish(runID, RunEvent{RunID: runID, Status: string(storage.RunRunning)})

	// 全量加载历史，策略预热窗口需要起始日之前的数据
	prices, err := h.market.LoadTable(ctx, req.Symbols, time.Time{}, time.Now())
	if err != nil {
		fail(err)
		return
	}

	strat, err := h.registry.Create(req.Strategy, strategy.Params(req.Params))
	if err != nil {
		fail(err)
		return
	}
	signals, err := strat.GenerateSignals(ctx, prices, indicator.NewService(prices))
	if err != nil {
		fail(err)
		return
	}

	result, err := engine.Run(ctx, signals, prices)
	if err != nil {
		fail(err)
		return
	}
	result.RunID = runID

	if err := h.runs.SaveResult(ctx, result); err != nil {
		fail(err)
		return
	}
	if h.cache != nil {
		_ = h.cache.Set(ctx, cache.ReportKey(runID), result.Report, reportCacheTTL)
	}

	h.metrics.ObserveRun(req.Strategy, result, time.Since(start), nil)
	h.hub.Publish(runID, RunEvent{RunID: runID, Status: string(storage.RunCompleted), Report: result.Report})
	logger.Info("Backtest run completed",
		"run_id", runID,
		"strategy", req.Strategy,
		"trades", result.Trades.Len(),
		"duration", time.Since(start),
	)
}

// @Summary List recent runs
// @Tags Backtest
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum rows"
// @Success 200 {object} Response{data=[]storage.RunRecord}
// @Router /backtest/runs [get]
func (h *BacktestHandler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// @Summary Get one run
// @Tags Backtest
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} Response{data=storage.RunRecord}
// @Router /backtest/runs/{id} [get]
func (h *BacktestHandler) GetRun(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}
	rec, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rec})
}

// @Summary Get a run's trade log
// @Tags Backtest
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} Response{data=[]backtest.Trade}
// @Router /backtest/runs/{id}/trades [get]
func (h *BacktestHandler) GetTrades(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}
	trades, err := h.runs.GetTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: trades})
}

// @Summary Get a run's daily valuations
// @Tags Backtest
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} Response{data=[]backtest.DailyValuation}
// @Router /backtest/runs/{id}/valuations [get]
func (h *BacktestHandler) GetValuations(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}
	valuations, err := h.runs.GetValuations(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: valuations})
}

// @Summary Get a run's performance report
// @Tags Backtest
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} Response{data=backtest.PerformanceReport}
// @Router /backtest/runs/{id}/report [get]
func (h *BacktestHandler) GetReport(c *gin.Context) {
	runID := c.Param("id")
	ctx := c.Request.Context()

	if h.cache != nil {
		var report backtest.PerformanceReport
		if err := h.cache.Get(ctx, cache.ReportKey(runID), &report); err == nil {
			c.JSON(http.StatusOK, Response{Success: true, Data: report})
			return
		}
	}

	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}
	rec, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return
	}
	if rec.Report == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "report not ready"})
		return
	}
	if h.cache != nil {
		_ = h.cache.Set(ctx, cache.ReportKey(runID), rec.Report, reportCacheTTL)
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rec.Report})
}

// SweepHandler 参数扫描接口
type SweepHandler struct {
	sweeper  *optimizer.Sweeper
	market   *marketstore.Storage
	defaults *backtest.Config
	metrics  *monitor.Metrics
}

// NewSweepHandler creates the sweep handler.
func NewSweepHandler(sweeper *optimizer.Sweeper, marketStore *marketstore.Storage, defaults *backtest.Config, metrics *monitor.Metrics) *SweepHandler {
	return &SweepHandler{sweeper: sweeper, market: marketStore, defaults: defaults, metrics: metrics}
}

// SweepRequest 参数扫描提交请求
type SweepRequest struct {
	Strategy string                `json:"strategy" binding:"required"`
	Bounds   map[string][2]float64 `json:"bounds" binding:"required"`
	Steps    int                   `json:"steps"`
	Symbols  []string              `json:"symbols" binding:"required,min=1"`
	Start    string                `json:"start"`
	End      string                `json:"end"`

	Config *backtest.Config `json:"config"`
}

// @Summary Submit a parameter sweep
// @Tags Sweep
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SweepRequest true "Sweep parameters"
// @Success 202 {object} Response{data=optimizer.SweepJob}
// @Router /sweep [post]
func (h *SweepHandler) Submit(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if h.market == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}

	steps := req.Steps
	if steps <= 0 {
		steps = 5
	}
	grid, err := optimizer.GridFromBounds(req.Bounds, steps)
	if err != nil {
		respondError(c, err)
		return
	}

	cfg := h.defaults.Clone()
	if req.Config != nil {
		cfg = req.Config.Clone()
	}
	cfg.StartDate = req.Start
	cfg.EndDate = req.End

	prices, err := h.market.LoadTable(c.Request.Context(), req.Symbols, time.Time{}, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}

	job, err := h.sweeper.Submit(optimizer.Request{
		Strategy: req.Strategy,
		Grid:     grid,
		Config:   cfg,
		Prices:   prices,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, Response{Success: true, Data: job})
}

// @Summary List sweep jobs
// @Tags Sweep
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]optimizer.SweepJob}
// @Router /sweep [get]
func (h *SweepHandler) List(c *gin.Context) {
	jobs := h.sweeper.Jobs()
	stats := h.sweeper.Stats()
	if h.metrics != nil {
		h.metrics.SetSweepQueue(stats.PendingJobs, stats.RunningJobs)
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"jobs": jobs, "stats": stats}})
}

// @Summary Get one sweep job
// @Tags Sweep
// @Produce json
// @Security BearerAuth
// @Param id path string true "Sweep job ID"
// @Success 200 {object} Response{data=optimizer.SweepJob}
// @Router /sweep/{id} [get]
func (h *SweepHandler) Get(c *gin.Context) {
	job, err := h.sweeper.Job(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: job})
}

// @Summary Get ranked sweep results
// @Tags Sweep
// @Produce json
// @Security BearerAuth
// @Param id path string true "Sweep job ID"
// @Param metric query string false "Ranking metric, default sharpe_ratio"
// @Success 200 {object} Response{data=[]optimizer.Ranked}
// @Router /sweep/{id}/results [get]
func (h *SweepHandler) Results(c *gin.Context) {
	job, err := h.sweeper.Job(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return
	}

	ranked, err := optimizer.Rank(job.Results, c.Query("metric"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: ranked})
}

// @Summary Cancel a sweep job
// @Tags Sweep
// @Produce json
// @Security BearerAuth
// @Param id path string true "Sweep job ID"
// @Success 200 {object} Response
// @Router /sweep/{id}/cancel [post]
func (h *SweepHandler) Cancel(c *gin.Context) {
	if err := h.sweeper.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"message": "cancel requested"}})
}

// parseDateRange parses optional start/end dates; empty strings widen to the
// full available history.
func parseDateRange(startStr, endStr string) (time.Time, time.Time, error) {
	start := time.Time{}
	end := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

	if startStr != "" {
		parsed, err := market.ParseDate(startStr)
		if err != nil {
			return start, end, err
		}
		start = parsed
	}
	if endStr != "" {
		parsed, err := market.ParseDate(endStr)
		if err != nil {
			return start, end, err
		}
		end = parsed
	}
	return start, end, nil
}
