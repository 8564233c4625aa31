package main

import (
	"database/sql"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"parkease/internal/api"
	"parkease/internal/auth"
	"parkease/internal/repository"
	"parkease/internal/service"
)

func main() {
	godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	pool, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	if err := pool.Ping(); err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}

	feeBps := int64(service.DefaultFeeBps)
	if raw := os.Getenv("PLATFORM_FEE_BPS"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 || parsed > 10000 {
			log.Fatalf("Invalid PLATFORM_FEE_BPS: %q", raw)
		}
		feeBps = parsed
	}

	store := repository.NewPostgresStore(pool)
	ledger := service.NewLedgerService(store, log)
	notifier := service.NewNotifyService(store, log)
	svc := service.NewReservationService(store, ledger, notifier, log, feeBps)
	jobs := service.NewJobService(svc, log)

	handler := api.NewReservationHandler(svc)
	wallet := api.NewWalletHandler(ledger)

	r := mux.NewRouter()

	// Public endpoints
	r.HandleFunc("/api/lots/{lot_id}/availability", handler.CheckAvailability).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Authenticated endpoints
	authed := r.PathPrefix("/api").Subrouter()
	authed.Use(auth.Middleware)
	authed.HandleFunc("/reservations", handler.CreateReservation).Methods("POST")
	authed.HandleFunc("/reservations", handler.ListReservations).Methods("GET")
	authed.HandleFunc("/reservations/{id}", handler.GetReservation).Methods("GET")
	authed.HandleFunc("/reservations/{id}", handler.CancelReservation).Methods("DELETE")
	authed.HandleFunc("/reservations/{id}/complete", handler.CompleteReservation).Methods("POST")
	authed.HandleFunc("/wallet", wallet.GetWallet).Methods("GET")
	authed.HandleFunc("/wallet/add", wallet.AddMoney).Methods("POST")
	authed.HandleFunc("/wallet/withdraw", wallet.WithdrawMoney).Methods("POST")

	c := cron.New()
	if _, err := c.AddFunc("@every 1m", jobs.CompleteFinishedReservations); err != nil {
		log.Fatalf("Failed to schedule expiry sweep: %v", err)
	}
	c.Start()
	defer c.Stop()

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Infof("Server running on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, handlers.LoggingHandler(os.Stdout, corsHandler(r))))
}
