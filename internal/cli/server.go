package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/amann-codes/quizbud/internal/app"
	"github.com/amann-codes/quizbud/internal/config"
	"github.com/amann-codes/quizbud/internal/domain"
	"github.com/amann-codes/quizbud/internal/infra/memory"
	pgstore "github.com/amann-codes/quizbud/internal/infra/postgres"
	redisstore "github.com/amann-codes/quizbud/internal/infra/redis"
	transport "github.com/amann-codes/quizbud/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the test-session server",
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
	}

	var quizWriter app.QuizWriter
	var quizLoader memory.QuizLoader
	if pool != nil {
		store := pgstore.NewQuizStore(pool)
		quizWriter, quizLoader = store, store
	} else {
		store := memory.NewQuizStoreWith(sampleQuizzes())
		quizWriter, quizLoader = store, store
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, quizLoader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(quizLoader, quizTTL)
	}

	var tests app.TestRepository
	if pool != nil {
		tests = pgstore.NewTestStore(pool)
	} else {
		tests = memory.NewTestStore()
	}

	service := app.NewTestService(tests, quizRepo, quizWriter)
	handler := transport.NewHandler(service)
	wsHandler := transport.NewWSHandler(service)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if cfg.Sweep.Interval != "" {
		interval := config.TTLDuration(cfg.Sweep.Interval, time.Minute)
		go app.NewTimeoutSweeper(service, interval).Run(sweepCtx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quizbud service on :%s", finalPort)
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

// sampleQuizzes seeds the in-memory tier so the service is usable without a
// database; swap in Postgres for production.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:           "quiz-1",
			Name:         "Basic arithmetic",
			TimeLimitSec: 900,
			Questions: []domain.Question{
				{
					ID:   "q1",
					Text: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
				},
			},
		},
	}
}
