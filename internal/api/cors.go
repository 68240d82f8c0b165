package api

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// CORSConfig holds CORS configuration. AllowOrigins lists the origins
// echoed back; "*" allows any.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

// DefaultCORSConfig lets a console served from another origin drive the rig.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "Accept", "Last-Event-ID"},
		MaxAge:       3600,
	}
}

// corsHeaders returns a setter applying the CORS headers for a request from
// origin.
func (c CORSConfig) corsHeaders() func(origin string, set func(key, value string)) {
	methods := strings.Join(c.AllowMethods, ", ")
	headers := strings.Join(c.AllowHeaders, ", ")
	maxAge := strconv.Itoa(c.MaxAge)
	wildcard := slices.Contains(c.AllowOrigins, "*")

	return func(origin string, set func(key, value string)) {
		switch {
		case wildcard:
			set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(c.AllowOrigins, origin):
			set("Access-Control-Allow-Origin", origin)
			set("Vary", "Origin")
		default:
			return
		}
		set("Access-Control-Allow-Methods", methods)
		set("Access-Control-Allow-Headers", headers)
		set("Access-Control-Max-Age", maxAge)
	}
}

// NewCORSMiddleware creates CORS middleware with the given configuration
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	apply := config.corsHeaders()
	return func(ctx huma.Context, next func(huma.Context)) {
		apply(ctx.Header("Origin"), ctx.SetHeader)
		next(ctx)
	}
}

// AddCORSHandler answers preflight requests on the mux. Huma middleware only
// runs for registered operations, so OPTIONS never reaches it.
func AddCORSHandler(mux *http.ServeMux, config CORSConfig) {
	apply := config.corsHeaders()
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		apply(r.Header.Get("Origin"), w.Header().Set)
		w.WriteHeader(http.StatusNoContent)
	})
}
