package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"aquant/internal/database"
)

// Claims JWT载荷
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates access tokens.
type JWTManager struct {
	secretKey []byte
	duration  time.Duration
}

// NewJWTManager creates a token manager. Duration at or below zero falls
// back to 24 hours.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return &JWTManager{
		secretKey: []byte(secretKey),
		duration:  duration,
	}
}

// GenerateToken signs a token for the given user.
func (m *JWTManager) GenerateToken(userID, username, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "aquant",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token, returning its claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// AuthMiddleware rejects requests without a valid Bearer token and stores
// the caller's identity on the context.
func (m *JWTManager) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing authorization header",
			})
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "authorization header must use Bearer scheme",
			})
			return
		}

		claims, err := m.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "invalid or expired token",
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// AuthHandler 认证相关接口
type AuthHandler struct {
	jwtManager *JWTManager
	db         *database.DB
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(jwtManager *JWTManager, db *database.DB) *AuthHandler {
	return &AuthHandler{jwtManager: jwtManager, db: db}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Email    string `json:"email" binding:"required,email"`
}

// RefreshRequest 刷新令牌请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// AuthResponse 认证响应
type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
}

// @Summary User login
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} Response{data=AuthResponse}
// @Failure 401 {object} Response
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.db.GetUserByUsername(ctx, req.Username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "invalid credentials"})
		return
	}
	if err := database.ValidatePassword(req.Password, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "invalid credentials"})
		return
	}

	accessToken, err := h.jwtManager.GenerateToken(user.ID.String(), user.Username, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to generate access token"})
		return
	}
	refreshToken := uuid.NewString()

	expiresAt := time.Now().Add(7 * 24 * time.Hour)
	if _, err := h.db.CreateUserSession(ctx, user.ID, refreshToken, expiresAt); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to create session"})
		return
	}
	_ = h.db.UpdateUserLastLogin(ctx, user.ID)

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: AuthResponse{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
			UserID:       user.ID.String(),
			Username:     user.Username,
			Role:         user.Role,
		},
	})
}

// @Summary User registration
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration data"
// @Success 201 {object} Response{data=AuthResponse}
// @Failure 409 {object} Response
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}

	ctx := c.Request.Context()
	exists, err := h.db.CheckUserExists(ctx, req.Username, req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to check user existence"})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, Response{Success: false, Error: "username or email already exists"})
		return
	}

	user, err := h.db.CreateUser(ctx, req.Username, req.Email, req.Password, "researcher")
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to create user"})
		return
	}

	accessToken, err := h.jwtManager.GenerateToken(user.ID.String(), user.Username, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to generate access token"})
		return
	}
	refreshToken := uuid.NewString()

	expiresAt := time.Now().Add(7 * 24 * time.Hour)
	if _, err := h.db.CreateUserSession(ctx, user.ID, refreshToken, expiresAt); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data: AuthResponse{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
			UserID:       user.ID.String(),
			Username:     user.Username,
			Role:         user.Role,
		},
	})
}

// @Summary Refresh token
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh token"
// @Success 200 {object} Response{data=AuthResponse}
// @Failure 401 {object} Response
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}

	ctx := c.Request.Context()
	session, err := h.db.GetUserSessionByToken(ctx, req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "session not found or expired"})
		return
	}

	user, err := h.db.GetUserByID(ctx, session.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "user not found"})
		return
	}

	accessToken, err := h.jwtManager.GenerateToken(user.ID.String(), user.Username, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to generate access token"})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: AuthResponse{
			AccessToken:  accessToken,
			RefreshToken: req.RefreshToken,
			ExpiresAt:    session.ExpiresAt,
			UserID:       user.ID.String(),
			Username:     user.Username,
			Role:         user.Role,
		},
	})
}

// @Summary User logout
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh token to invalidate"
// @Success 200 {object} Response
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}

	ctx := c.Request.Context()
	session, err := h.db.GetUserSessionByToken(ctx, req.RefreshToken)
	if err != nil {
		// 会话不存在时保持幂等
		c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"message": "logged out"}})
		return
	}
	if err := h.db.DeleteUserSession(ctx, session.ID); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to logout"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"message": "logged out"}})
}

// @Summary Get current user profile
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=database.User}
// @Router /auth/profile [get]
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userIDStr, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "not authenticated"})
		return
	}
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
		return
	}

	userID, err := uuid.Parse(userIDStr.(string))
	if err != nil {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "invalid user id"})
		return
	}

	user, err := h.db.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "user not found"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: user})
}
