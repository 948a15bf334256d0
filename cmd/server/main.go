package main

import (
    "context"
    "errors"
    "log/slog"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/joho/godotenv"
    "github.com/rs/cors"

    "github.com/zaqqye/exam_guard/internal/capture"
    "github.com/zaqqye/exam_guard/internal/config"
    "github.com/zaqqye/exam_guard/internal/database"
    "github.com/zaqqye/exam_guard/internal/logging"
    "github.com/zaqqye/exam_guard/internal/routes"
    "github.com/zaqqye/exam_guard/internal/session"
    "github.com/zaqqye/exam_guard/internal/ws"
)

func main() {
    // Load .env (non-fatal if missing in production)
    _ = godotenv.Load()

    cfg := config.Load()
    log := logging.New(os.Stderr, cfg.LogLevel)
    slog.SetDefault(log)

    if err := run(cfg, log); err != nil {
        log.Error("server exited with error", "error", err)
        os.Exit(1)
    }
}

func run(cfg *config.Config, log *slog.Logger) error {
    db, err := database.Connect(cfg)
    if err != nil {
        return err
    }
    if err := database.Migrate(db); err != nil {
        return err
    }
    if err := database.SeedAdmin(db, cfg, log); err != nil {
        return err
    }

    var sessions session.Store
    switch cfg.SessionStore {
    case "memory":
        sessions = session.NewMemoryStore()
        log.Warn("session store is in memory; sessions end on restart")
    default:
        sessions = session.NewGormStore(db)
    }

    objects, err := capture.OpenBoltStore(cfg.CaptureDBPath)
    if err != nil {
        return err
    }
    defer objects.Close()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    hubs := ws.NewHubs(log)
    go hubs.Run(ctx)

    if log.Enabled(ctx, slog.LevelDebug) {
        gin.SetMode(gin.DebugMode)
    } else {
        gin.SetMode(gin.ReleaseMode)
    }
    r := gin.New()
    r.Use(gin.Recovery(), logging.RequestLogger(log))
    routes.Register(r, routes.Deps{
        DB:       db,
        Cfg:      cfg,
        Sessions: sessions,
        Binder:   &session.Binder{DB: db, Store: sessions, Notifier: hubs.Student, Log: log},
        Hubs:     hubs,
        Captures: &capture.Service{DB: db, Objects: objects},
        Log:      log,
    })

    handler := cors.New(cors.Options{
        AllowedOrigins:   cfg.CORSAllowedOrigins,
        AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
        AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
        AllowCredentials: true,
    }).Handler(r)

    port := cfg.Port
    if port == "" {
        port = "8080"
    }
    server := &http.Server{
        Addr:              ":" + port,
        Handler:           handler,
        ReadHeaderTimeout: 10 * time.Second,
        IdleTimeout:       60 * time.Second,
    }

    done := make(chan error, 1)
    go func() {
        log.Info("listening", "addr", server.Addr, "db_driver", cfg.DBDriver, "session_store", cfg.SessionStore)
        if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            done <- err
            return
        }
        done <- nil
    }()

    select {
    case err := <-done:
        return err
    case <-ctx.Done():
    }
    log.Info("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    // Hijacked websocket connections are not tracked by Shutdown; the hubs
    // close them when ctx ends.
    return server.Shutdown(shutdownCtx)
}
