package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attempt-service/internal/app"
	"attempt-service/internal/config"
	"attempt-service/internal/domain"
	"attempt-service/internal/infra/memory"
	pgstore "attempt-service/internal/infra/postgres"
	redisstore "attempt-service/internal/infra/redis"
	transport "attempt-service/internal/transport/http"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	attemptCfg := app.Config{
		ExamDuration:      config.Duration(cfg.Attempt.ExamDuration, time.Minute),
		EligibilityWindow: config.Duration(cfg.Attempt.EligibilityWindow, 24*time.Hour),
		SubmitGrace:       config.Duration(cfg.Attempt.SubmitGrace, 30*time.Second),
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var locks app.LockStore
	if redisClient != nil {
		// A crashed holder self-frees well after any legitimate submit.
		heldTTL := attemptCfg.ExamDuration + attemptCfg.SubmitGrace + time.Minute
		locks = redisstore.NewLockStore(redisClient, heldTTL)
	} else {
		locks = memory.NewLockStore()
	}

	var answers app.AnswerStore = memory.NewAnswerStore()
	if pool != nil {
		answers = pgstore.NewAnswerStore(pool)
	}

	var sessions app.SessionRegistry
	if redisClient != nil {
		sessions = redisstore.NewSessionRegistry(redisClient)
	} else {
		sessions = memory.NewSessionRegistry()
	}

	service := app.NewAttemptService(quizRepo, locks, answers, sessions, attemptCfg)
	handler := transport.NewHandler(service)
	wsHandler := transport.NewWSHandler(service)

	router := chi.NewRouter()
	handler.Register(router)
	router.Get("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting attempt service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes provides a minimal data set for running without Postgres;
// production deployments load definitions from the quizzes table.
func sampleQuizzes() map[string]domain.QuizDefinition {
	return map[string]domain.QuizDefinition{
		"quiz-1": {
			ID:      "quiz-1",
			Title:   "Arithmetic warm-up",
			Version: 1,
			Questions: []domain.Question{
				{
					Kind:         domain.KindMCQ,
					Text:         "What is 2 + 2?",
					Options:      []string{"3", "4", "5"},
					CorrectIndex: 1,
				},
				{
					Kind:     domain.KindNAT,
					Text:     "What is 6 * 7?",
					Expected: 42,
				},
			},
		},
	}
}
