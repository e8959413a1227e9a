package webserver

import (
	"fmt"
	"math"
	"net"
	"net/http"

	"golang.org/x/time/rate"
)

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (ws *WebServer) getRateLimiter(r *http.Request) *rate.Limiter {
	limiter := rate.NewLimiter(rate.Limit(ws.rateLimit), ws.rateBurst)
	item, _ := ws.rateLimiters.GetOrSet(remoteIP(r), limiter)
	return item.Value()
}

// rateLimitMiddleware throttles writes per client IP. Reads pass through.
// A zero limit disables throttling.
func (ws *WebServer) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws.rateLimit <= 0 || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		limiter := ws.getRateLimiter(r)
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			// not proceeding, return the token
			res.Cancel()
			ws.logger.Warn("rate limit exceeded", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(delay.Seconds())))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%v", limiter.Limit()))
			w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", limiter.Burst()))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: http.StatusText(http.StatusTooManyRequests)})
			return
		}
		next.ServeHTTP(w, r)
	})
}
