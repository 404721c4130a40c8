package web

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/deemkeen/pachygram/domain"
)

// subjectHeader carries the authenticated OAuth subject, set by the
// reverse proxy that terminates the login flow. The API itself never sees
// credentials, only the stable subject identifier.
const subjectHeader = "X-Auth-Subject"

const accountContextKey = "account"

// RateLimiter holds per-IP token buckets.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing r requests per second with
// burst b, tracked per client IP.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    b,
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = limiter
	}
	return limiter
}

func (rl *RateLimiter) cleanupOldLimiters() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		// Reset the map once it grows too large to free memory from
		// one-off client IPs
		if len(rl.limiters) > 10000 {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware rejects requests over the per-IP budget with 429.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	go rl.cleanupOldLimiters()

	return func(c *gin.Context) {
		if !rl.getLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// MaxBytesMiddleware limits the size of request bodies.
func MaxBytesMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SessionMiddleware resolves the proxy-provided subject to a local
// account and stores it on the context. Routes behind it always see an
// authenticated account; requests without a subject get 401.
func (s *Server) SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetHeader(subjectHeader)
		if subject == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing auth subject"})
			c.Abort()
			return
		}

		acc, err := s.db.ReadAccountBySubject(c.Request.Context(), subject)
		if err != nil {
			var notFound *domain.NotFoundError
			if errors.As(err, &notFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "No account for subject"})
			} else {
				log.Printf("Web: Failed to load account for subject: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			}
			c.Abort()
			return
		}

		c.Set(accountContextKey, acc)
		c.Next()
	}
}

// currentAccount returns the account stored by SessionMiddleware.
func currentAccount(c *gin.Context) *domain.Account {
	acc, _ := c.MustGet(accountContextKey).(*domain.Account)
	return acc
}

// abortWithError translates the domain error taxonomy into HTTP statuses.
// Anything outside the taxonomy is a 500 and gets logged with its cause;
// the client only sees a generic message.
func abortWithError(c *gin.Context, err error) {
	var validation *domain.ValidationError
	var notFound *domain.NotFoundError
	var conflict *domain.ConflictError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	default:
		log.Printf("Web: %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
	c.Abort()
}
