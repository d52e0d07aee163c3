package routes

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/challenge"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/identity"
	"github.com/keygate/keygate/internal/middleware"
	"github.com/keygate/keygate/internal/passkey"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/relyingparty"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "POST, OPTIONS",
		AllowHeaders: "Content-Type, Authorization, apikey, x-client-info",
	}))

	// Health
	RegisterHealthRoutes(app, d)

	// Repositories and services
	challengeRepo := challenge.NewPostgresRepository(d.DB)
	credentialRepo := credential.NewPostgresRepository(d.DB)
	identityRepo := identity.NewPostgresRepository(d.DB)
	identitySvc := identity.NewService(identityRepo, []byte(d.Cfg.JWTSecret), d.Cfg.SignInTokenTTL)

	limiter := ratelimit.NewRedisLimiter(d.Cache, d.Cfg.RateLimitPerIP)
	recorder := audit.NewPostgresRecorder(d.DB, d.Logger)
	provider := relyingparty.New()

	passkeySvc := passkey.NewService(
		challengeRepo, credentialRepo, identitySvc, provider, limiter, recorder,
		d.Cfg.ChallengeTTL, d.Cfg.RelyingPartyID, d.Cfg.RelyingPartyName,
	)
	passkeyHandler := passkey.NewHandler(passkeySvc, identitySvc, d.Logger)

	RegisterPasskeyRoutes(app, passkeyHandler)

	return nil
}
