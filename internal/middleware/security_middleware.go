package middleware

import "net/http"

// SecurityHeaders is an HTTP middleware that adds a standard set of
// security-related headers to every response.
//
// Applied headers:
//
// - X-Content-Type-Options: "nosniff"
//
// - Cache-Control: "no-store, no-cache, must-revalidate"
//   Vehicle positions go stale within seconds; nothing here is cacheable.
//
// - Pragma: "no-cache"
//
// - Cross-Origin-Opener-Policy: "same-origin"
//
// - X-XSS-Protection: "1; mode=block"
//
// - Content-Security-Policy: "default-src 'self'; connect-src 'self' ws: wss:"
//   The map page opens the live stream over a websocket.
//
// Cross-Origin-Resource-Policy is not set: map front ends on other origins
// read this API, governed by CORS.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; connect-src 'self' ws: wss:")
		next.ServeHTTP(w, r)
	})
}
