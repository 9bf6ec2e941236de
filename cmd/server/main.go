package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/formatlab/annoserve/internal/api"
	"github.com/formatlab/annoserve/internal/db"
	"github.com/formatlab/annoserve/internal/middleware"
	"github.com/formatlab/annoserve/internal/utils"
)

func main() {
	addr := utils.SafeEnv("ANNOSERVE_ADDR", ":8080")
	dbPath := utils.SafeEnv("ANNOSERVE_DB_PATH", "annoserve.db")
	migrationsDir := os.Getenv("ANNOSERVE_MIGRATIONS_DIR")
	commit := os.Getenv("ANNOSERVE_COMMIT")
	buildTime := os.Getenv("ANNOSERVE_BUILD_TIME")

	log := newLogger()
	defer func() { _ = log.Sync() }()

	sqldb, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		log.Fatal("open database", zap.String("path", dbPath), zap.Error(err))
	}
	defer func() { _ = sqldb.Close() }()
	// go-sqlite3 serializes writes; a single connection avoids SQLITE_BUSY
	// under concurrent registrations.
	sqldb.SetMaxOpenConns(1)

	if err := db.RunMigrations(sqldb, migrationsDir); err != nil {
		log.Fatal("run migrations", zap.Error(err))
	}
	store, err := db.NewStore(sqldb, log)
	if err != nil {
		log.Fatal("init store", zap.Error(err))
	}

	mux := http.NewServeMux()
	api.NewRouter(store).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "annoserve API",
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	handler := middleware.RequestLogger(log)(
		middleware.NoStore(middleware.SecureHeaders(middleware.CORS(middleware.WithAuth(mux)))))

	log.Info("annoserve listening", zap.String("addr", addr), zap.String("db", dbPath))
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func newLogger() *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if utils.SafeEnv("ANNOSERVE_ENV", "dev") == "production" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return log
}
