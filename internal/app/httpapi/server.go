package httpapi

import (
	"net/http"

	app "github.com/sportsblock/sportsblock/internal/app"
	"github.com/sportsblock/sportsblock/internal/app/metrics"
	"github.com/sportsblock/sportsblock/internal/middleware"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

// publicPaths pass through without a bearer token.
var publicPaths = []string{
	"/healthz",
	"/metrics",
	"/auth/register",
	"/auth/login",
	"/feeds/*",
	"/leaderboard",
	"/prices",
	"/prices/*",
	"/users/*",
	"/ws",
}

// NewServer assembles the full handler chain: tracing, CORS, authentication,
// rate limiting and metrics around the REST mux.
func NewServer(application *app.Application, log *logger.Logger) (http.Handler, error) {
	cfg := application.Config

	auth, err := middleware.NewAuth(middleware.AuthConfig{
		Secret:    []byte(cfg.Auth.JWTSecret),
		Issuer:    cfg.Auth.Issuer,
		SkipPaths: publicPaths,
	}, log)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", NewHandler(application, auth))

	rl := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	var handler http.Handler = mux
	handler = rl.Middleware(handler)
	handler = auth.Middleware(handler)
	handler = middleware.CORS(cfg.Server.AllowedOrigins)(handler)
	handler = middleware.Tracing(log)(handler)
	handler = metrics.InstrumentHandler(handler)
	return handler, nil
}
