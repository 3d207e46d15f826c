package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// maxPeekBody bounds how much of a request body MailRateLimit reads.
const maxPeekBody = 64 << 10

// RateLimit caps requests per client IP within one scope. Confirmation links
// carry the hash in the path, so the scope is a fixed name rather than the
// request path.
func RateLimit(scope string, requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.Key(scope)),
		httprate.WithLimitHandler(writeRateLimited),
	)
}

// MailRateLimit caps subscription requests naming the same address, whatever
// client sends them. Each accepted request may send a confirmation mail to
// that address. Requests without a readable mail field are not counted.
func MailRateLimit(requestsPerHour int) func(http.Handler) http.Handler {
	limiter := httprate.NewRateLimiter(requestsPerHour, time.Hour,
		httprate.WithLimitHandler(writeRateLimited),
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mail := peekMail(r); mail != "" && limiter.RespondOnLimit(w, r, "mail:"+mail) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// peekMail reads the mail field of a JSON body and restores the body for the
// next handler.
func peekMail(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		Mail string `json:"mail"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(payload.Mail))
}

func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "rate limit exceeded",
		"code":  "rate_limit",
	})
}
