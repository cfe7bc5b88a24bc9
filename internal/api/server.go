package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-roomchat/internal/auth"
	"github.com/npezzotti/go-roomchat/internal/config"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/server"
	"github.com/npezzotti/go-roomchat/internal/types"
)

// FileStore is the part of the file registry served over HTTP.
type FileStore interface {
	Open(key string) (types.FileRecord, []byte, error)
}

// Server is the HTTP front of the chat server: websocket sessions, file
// downloads and health checks.
type Server struct {
	log            *log.Logger
	db             database.ChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	files          FileStore
	tokens         *auth.TokenIssuer
	allowedOrigins []string
}

func NewServer(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, fs FileStore, tokens *auth.TokenIssuer, cfg *config.Config) *Server {
	s := &Server{
		log:            logger,
		db:             db,
		cs:             cs,
		files:          fs,
		tokens:         tokens,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /api/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/files/{key}", s.authMiddleware(s.downloadFile))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	if logger != nil {
		h = handlers.LoggingHandler(logger.Writer(), h)
	}

	s.mux = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: h,
	}

	return s
}

func (s *Server) Start() error {
	s.log.Printf("starting HTTP server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
