package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/npezzotti/go-roomchat/internal/api"
	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/config"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/files"
	"github.com/npezzotti/go-roomchat/internal/ledger"
	"github.com/npezzotti/go-roomchat/internal/rooms"
	"github.com/npezzotti/go-roomchat/internal/server"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/users"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (*database.DBConn, error) {
	if err := database.Migrate(cfg.DatabaseDriver, cfg.DatabaseDSN); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return database.NewDatabaseConnection(cfg.DatabaseDriver, cfg.DatabaseDSN)
}

// run starts the chat server and the HTTP front and blocks until a
// shutdown signal, returning the process exit code.
func run(cfg *config.Config) int {
	logger := log.New(os.Stderr, "[go-chat] ", log.LstdFlags)

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		logger.Println("data dir:", err)
		return 1
	}

	fileRegistry, err := files.NewRegistry(cfg.FilesDir, cfg.CompressFiles)
	if err != nil {
		logger.Println("file registry:", err)
		return 1
	}

	var (
		repo   database.ChatRepository
		dbConn *database.DBConn
	)
	if cfg.DatabaseDriver != "" {
		dbConn, err = openDatabase(cfg)
		if err != nil {
			logger.Println("db open:", err)
			return 1
		}
		repo = dbConn
	} else {
		logger.Println("no database driver configured, state is kept in memory only")
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	tokens := auth.NewTokenIssuer(cfg.SigningKey, cfg.TokenExpiry)

	roomRegistry := rooms.NewRegistry()
	stores := server.Stores{
		Users:  users.NewDirectory(),
		Rooms:  roomRegistry,
		Ledger: ledger.NewLedger(logger, roomRegistry),
		Files:  fileRegistry,
	}

	chatServer, err := server.NewChatServer(logger, stores, repo, statsUpdater, server.Options{
		Tokens:        tokens,
		UploadTimeout: cfg.UploadTimeout,
	})
	if err != nil {
		logger.Println("new chat server:", err)
		return 1
	}

	if err := chatServer.LoadState(context.Background()); err != nil {
		logger.Println("load state:", err)
	}

	listener, err := net.Listen("tcp", cfg.ServerAddr)
	if err != nil {
		logger.Println("listen:", err)
		return 1
	}

	statsUpdater.Run()
	go chatServer.Run()

	go func() {
		if err := chatServer.Serve(listener); err != nil {
			logger.Println("chat server:", err)
		}
	}()

	srv := api.NewServer(mux, logger, chatServer, repo, fileRegistry, tokens, cfg)
	if cfg.HTTPAddr != "" {
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Println("HTTP server:", err)
			}
		}()
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
			"chat": func(ctx context.Context) error {
				logger.Println("shutting down chat server...")
				closers := []func() error{func() error { fileRegistry.Close(); return nil }}
				if dbConn != nil {
					closers = append([]func() error{dbConn.Close}, closers...)
				}

				err := stopChat(ctx, chatServer, closers...)
				if err == nil {
					statsUpdater.Stop()
				}
				return err
			},
		},
	)

	exitCode := <-wait
	logger.Printf("shutdown complete with code %d", exitCode)
	return exitCode
}

type chatService interface {
	Shutdown(ctx context.Context) error
	DumpState(ctx context.Context) error
}

// stopChat drains the hub, then persists its state and runs closers in
// order. State is dumped even when draining timed out, using a context
// that outlives the expired shutdown deadline.
func stopChat(ctx context.Context, cs chatService, closers ...func() error) error {
	var errs []error
	if err := cs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("chat server shutdown: %w", err))
	}

	if err := cs.DumpState(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, fmt.Errorf("dump state: %w", err))
	}

	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}

	return errors.Join(errs...)
}
