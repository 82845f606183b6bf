package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

type Gateway struct {
	addr     string
	hub      *Hub
	notifier *Notifier
	log      *slog.Logger
}

func NewGateway(addr string, hub *Hub, notifier *Notifier, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		addr:     addr,
		hub:      hub,
		notifier: notifier,
		log:      log,
	}
}

func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/ws", g.serveWS)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}).Handler(r)
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	client, err := NewClient(w, r, sessionID, g.log)
	if err != nil {
		g.log.Warn("failed to initialize client websocket", "session", sessionID, "err", err)
		return
	}

	ctx := r.Context()
	if !g.hub.Register(ctx, client) {
		return
	}
	if err := client.Run(ctx); err != nil {
		g.log.Info("client connection ended", "session", sessionID, "err", err)
	}
	g.hub.Unregister(client)
}

// Start serves websocket connections and delivers confirmed matches until
// ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    "0.0.0.0:" + g.addr,
		Handler: g.Handler(),
	}

	eg, gCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return g.hub.Run(gCtx)
	})
	eg.Go(func() error {
		return g.notifier.Start(gCtx)
	})
	eg.Go(func() error {
		g.log.Info("listening for websocket connections", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error running gateway server - %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
