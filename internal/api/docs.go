package api

// @title aquant API
// @version 1.0
// @description A-share quantitative backtest research platform API

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @tag.name Auth
// @tag.description Authentication and user session operations

// @tag.name Market
// @tag.description Daily bar and instrument data operations

// @tag.name Strategy
// @tag.description Strategy catalog and signal preview operations

// @tag.name Backtest
// @tag.description Backtest run submission and result operations

// @tag.name Sweep
// @tag.description Parameter sweep operations
