package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"glowscan_go_backend/cmd/api/config"
	"glowscan_go_backend/internal/api"
	"glowscan_go_backend/internal/database"
	"glowscan_go_backend/internal/metrics"
	"glowscan_go_backend/internal/services"
	"glowscan_go_backend/internal/utils/broker"
	"glowscan_go_backend/internal/wsocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	var db *gorm.DB
	if cfg.UsesPostgres() {
		db, err = database.InitDB(cfg.DB.DSN(), cfg.Env == "development")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
	}

	// Initialize stores
	var userService services.UserStore = services.NewMemoryUserService()
	if db != nil {
		userService = services.NewUserServiceDB(db)
	}

	var quotaStore services.QuotaStore
	switch cfg.QuotaBackend {
	case config.BackendPostgres:
		quotaStore = services.NewQuotaServiceDB(db)
	case config.BackendRedis:
		redisClient, err := database.InitRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize redis")
		}
		defer redisClient.Close()
		quotaStore = services.NewRedisQuotaStore(redisClient)
	default:
		log.Warn().Msg("Quota counters are kept in memory and reset on restart")
		quotaStore = services.NewMemoryQuotaStore()
	}

	var conversationStore services.ConversationStore
	if cfg.ConversationBackend == config.BackendPostgres {
		conversationStore = services.NewConversationServiceDB(db, cfg.TitleMaxRunes)
	} else {
		conversationStore = services.NewMemoryConversationStore(cfg.TitleMaxRunes)
	}

	// Initialize model backends
	backends := make(map[string]services.InferenceBackend)
	if cfg.GeminiAPIKey != "" {
		genaiClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GenAI client")
		}
		defer genaiClient.Close()
		backends[services.TierBasicVision] = services.NewGeminiBackend(genaiClient, cfg.GeminiModel)
	} else {
		log.Warn().Str("tier", services.TierBasicVision).Msg("GEMINI_API_KEY is not set, tier is unavailable")
	}
	if cfg.OpenAIAPIKey != "" {
		backends[services.TierAdvancedVision] = services.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	} else {
		log.Warn().Str("tier", services.TierAdvancedVision).Msg("OPENAI_API_KEY is not set, tier is unavailable")
	}

	var mediaStore services.CloudStorageManager
	switch cfg.Media.Backend {
	case config.MediaGCS:
		gcsService, err := services.NewGCSService(ctx, cfg.Media.GCSBucketName)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS service")
		}
		defer gcsService.Close()
		mediaStore = gcsService
	case config.MediaMinio:
		minioService, err := services.NewMinIOService(ctx, cfg.Media.MinioEndpoint, cfg.Media.MinioAccessKey,
			cfg.Media.MinioSecretKey, cfg.Media.MinioBucket, cfg.Media.MinioUseSSL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create MinIO service")
		}
		mediaStore = minioService
	}

	// Initialize internal services
	ledger := services.NewQuotaLedger(userService, services.NewDefaultPlanRegistry(), quotaStore)
	conversationService := services.NewConversationService(conversationStore, broker.NewBroker())
	dispatcher := services.NewInferenceDispatcher(
		ledger,
		conversationService,
		backends,
		mediaStore,
		services.NewInflightLimiter(),
		cfg.InferenceTimeout,
		cfg.ChatContextWindow,
	)

	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(), metrics.Middleware())

	// CORS middleware configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "X-Quota-Tier", "X-Quota-Limit", "X-Quota-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = true
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
	wsHandler := wsocket.NewHandler(conversationService, upgrader, 30*time.Second)

	api.SetupRoutes(r, dispatcher, conversationService, ledger, userService, mediaStore, wsHandler, api.Options{
		JWTSecret:      cfg.JWTSecret,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
}
