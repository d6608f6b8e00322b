package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"aquant/internal/backtest"
	"aquant/internal/config"
	"aquant/internal/ingest"
	"aquant/internal/logger"
	"aquant/internal/market"
	"aquant/internal/optimizer"
	"aquant/internal/strategy"
)

func main() {
	var (
		dataPath   = flag.String("data", "", "CSV文件或目录路径")
		stratName  = flag.String("strategy", "momentum", "策略名称")
		boundsSpec = flag.String("bounds", "", "参数范围, 如 window=5:30,top_n=2:6")
		steps      = flag.Int("steps", 5, "每个参数轴的取值数量")
		metric     = flag.String("metric", "", "排名指标, 默认 sharpe_ratio")
		workers    = flag.Int("workers", 4, "并发回测数量")
		configPath = flag.String("config", "", "可选的配置文件路径")
		top        = flag.Int("top", 10, "输出前N名")
		asJSON     = flag.Bool("json", false, "以JSON输出结果")
	)
	flag.Parse()

	logger.Init(logger.Config{Level: logger.LevelWarn, Format: logger.FormatText, Output: "stderr"})
	log := logger.GetGlobalLogger()

	if *dataPath == "" || *boundsSpec == "" {
		flag.Usage()
		os.Exit(2)
	}

	btConfig := backtest.DefaultConfig()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal("failed to load config: %v", err)
		}
		btConfig = cfg.Backtest.Clone()
	}

	prices, err := loadPrices(*dataPath)
	if err != nil {
		fatal("failed to load price data: %v", err)
	}
	fmt.Fprintf(os.Stderr, "loaded %d symbols\n", len(prices.Symbols()))

	bounds, err := parseBounds(*boundsSpec)
	if err != nil {
		fatal("invalid bounds: %v", err)
	}
	grid, err := optimizer.GridFromBounds(bounds, *steps)
	if err != nil {
		fatal("failed to build grid: %v", err)
	}

	sweeper := optimizer.NewSweeper(strategy.NewRegistry(), *workers, log)
	job, err := sweeper.Submit(optimizer.Request{
		Strategy: *stratName,
		Grid:     grid,
		Config:   btConfig,
		Prices:   prices,
	})
	if err != nil {
		fatal("failed to submit sweep: %v", err)
	}

	start := time.Now()
	for {
		snap, err := sweeper.Job(job.ID)
		if err != nil {
			fatal("failed to poll sweep: %v", err)
		}
		fmt.Fprintf(os.Stderr, "\rprogress: %d/%d (failed %d)", snap.Completed, snap.Total, snap.Failed)
		if snap.Status.Terminal() {
			fmt.Fprintf(os.Stderr, "\nfinished in %s\n", time.Since(start).Round(time.Millisecond))
			job = snap
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	if job.Error != "" {
		fatal("sweep failed: %s", job.Error)
	}

	ranked, err := optimizer.Rank(job.Results, *metric)
	if err != nil {
		fatal("failed to rank results: %v", err)
	}
	if *top > 0 && *top < len(ranked) {
		ranked = ranked[:*top]
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(ranked); err != nil {
			fatal("failed to encode results: %v", err)
		}
		return
	}
	printTable(ranked)
}

// loadPrices reads one CSV file or every .csv in a directory into a table.
func loadPrices(path string) (*market.PriceTable, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
	} else {
		files = []string{path}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CSV files under %s", path)
	}

	var bars []market.PricePoint
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		parsed, err := ingest.ParseBars(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		bars = append(bars, parsed...)
	}
	return market.NewPriceTable(bars), nil
}

// parseBounds parses "window=5:30,top_n=2:6" into grid bounds.
func parseBounds(spec string) (map[string][2]float64, error) {
	bounds := make(map[string][2]float64)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("expected name=lo:hi, got %q", part)
		}
		lohi := strings.SplitN(kv[1], ":", 2)
		if len(lohi) != 2 {
			return nil, fmt.Errorf("expected lo:hi range in %q", part)
		}
		lo, err := strconv.ParseFloat(lohi[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad lower bound in %q: %w", part, err)
		}
		hi, err := strconv.ParseFloat(lohi[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad upper bound in %q: %w", part, err)
		}
		bounds[strings.TrimSpace(kv[0])] = [2]float64{lo, hi}
	}
	if len(bounds) == 0 {
		return nil, fmt.Errorf("no parameter ranges given")
	}
	return bounds, nil
}

func printTable(ranked []optimizer.Ranked) {
	fmt.Printf("%-4s %-30s %10s %10s %10s %10s\n",
		"#", "params", "value", "sharpe", "return", "maxdd")
	for _, r := range ranked {
		sharpe, ret, maxdd := 0.0, 0.0, 0.0
		if r.Report != nil {
			sharpe = r.Report.SharpeRatio
			ret = r.Report.TotalReturn
			maxdd = r.Report.MaxDrawdown
		}
		fmt.Printf("%-4d %-30s %10.4f %10.4f %9.2f%% %9.2f%%\n",
			r.Rank, formatParams(r.Params), r.Value, sharpe, ret*100, maxdd*100)
	}
}

func formatParams(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, params[k]))
	}
	return strings.Join(parts, " ")
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
