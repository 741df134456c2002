package router

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blues/pes/internal/config"
	"github.com/blues/pes/internal/handler"
	"github.com/blues/pes/internal/logger"
	"github.com/blues/pes/internal/logic"
	"github.com/blues/pes/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// Claims 调用方令牌，sub 为用户 id
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ParseToken 校验 HS256 令牌并还原调用方
func ParseToken(cfg config.AuthConfig, raw string) (logic.Actor, error) {
	if cfg.JWTSecret == "" {
		return logic.Actor{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return logic.Actor{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return logic.Actor{}, errors.New("invalid token claims")
	}
	role, ok := logic.ParseRole(claims.Role)
	if !ok {
		return logic.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return logic.Actor{Id: claims.Subject, Role: role}, nil
}

// authMiddleware 解析 Authorization: Bearer 令牌
func authMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actor, err := ParseToken(cfg, raw)
		if err != nil {
			logger.Debug("Rejected token from %s: %v", c.ClientIP(), err)
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Set(handler.ActorKey, actor)
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter 按调用方限流，未认证时按客户端 IP
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
	lastGC   time.Time
}

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		lastGC:   time.Now(),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastGC) > rl.idle {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.idle {
				delete(rl.visitors, k)
			}
		}
		rl.lastGC = now
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

func (rl *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if actor, ok := handler.CurrentActor(c); ok {
			key = "actor:" + actor.Id
		}
		if !rl.allow(key) {
			logger.Warn("Rate limit exceeded for %s on %s", key, c.FullPath())
			abort(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// metricsMiddleware 记录请求数与耗时，路径使用路由模板
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// requestLogger 请求日志
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, handler.Response{Success: false, Message: message})
}
