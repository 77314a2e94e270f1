package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"bedtime-sketch/config"
	"bedtime-sketch/core"
	"bedtime-sketch/handlers/api/sessions"
	"bedtime-sketch/handlers/api/stories"
	"bedtime-sketch/handlers/websocket"
	"bedtime-sketch/inference"
	"bedtime-sketch/session"
	"bedtime-sketch/stores"
	"bedtime-sketch/submission"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type connectedSession struct {
	ID      string `json:"id"`
	Sockets int    `json:"sockets"`
}

func setupRouter(reg *session.Registry, storyStore core.StoryStore) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}

			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "::1":
					return true
				}
			}

			return false
		},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	r.Use(cors.Handler(corsOptions))

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{"status": "ok", "sessions": reg.Len()})
	})

	r.Get("/api/connections", func(w http.ResponseWriter, r *http.Request) {
		active := websocket.ConnectedSessions()
		list := make([]connectedSession, 0, len(active))
		for id, n := range active {
			list = append(list, connectedSession{ID: id, Sockets: n})
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Sockets == list[j].Sockets {
				return list[i].ID < list[j].ID
			}
			return list[i].Sockets > list[j].Sockets
		})
		render.JSON(w, r, list)
	})

	r.Post("/api/sessions", sessions.HandleCreate(reg))
	r.Route("/api/sessions/{id}", func(r chi.Router) {
		r.Get("/", sessions.HandleGet(reg))
		r.Delete("/", sessions.HandleDelete(reg))
		r.Post("/strokes", sessions.HandleStroke(reg))
		r.Post("/clear", sessions.HandleClear(reg))
		r.Post("/theme", sessions.HandleToggleTheme(reg))
		r.Get("/download", sessions.HandleDownload(reg))
		r.Post("/submit", sessions.HandleSubmit(reg))

		r.Route("/stories", func(r chi.Router) {
			r.Get("/", stories.HandleList(storyStore))
			r.Route("/{storyId}", func(r chi.Router) {
				r.Get("/", stories.HandleGet(storyStore))
				r.Get("/audio", stories.HandleAudio(storyStore))
				r.Delete("/", stories.HandleDelete(storyStore))
			})
		})
	})

	return r
}

func waitForShutdown(srv *http.Server, ioo *socketio.Server, reg *session.Registry, closers ...func() error) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ioo.Close(nil)
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	reg.CloseAll()
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logrus.WithError(err).Warn("Failed to close resource")
		}
	}
}

func main() {
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to read .env file")
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	storyStore, err := stores.GetStore(context.Background(), cfg.Storage)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open story store")
	}
	var closers []func() error
	if c, ok := storyStore.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	schedule := submission.DefaultSchedule()
	schedule.FirstDelay = cfg.Canvas.FeedbackFirstDelay
	schedule.Interval = cfg.Canvas.FeedbackInterval

	reg := session.NewRegistry(session.Options{
		Client:               inference.NewClient(cfg.Inference.URL, cfg.Inference.APIKey, cfg.Inference.Timeout),
		Store:                storyStore,
		PollInterval:         cfg.Canvas.PollInterval,
		Schedule:             schedule,
		AcceptClassification: cfg.Inference.AcceptClassification,
	})

	r := setupRouter(reg, storyStore)
	ioo := websocket.SetupSocketIO(reg)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	srv := &http.Server{Addr: *listenAddr, Handler: r}
	logrus.WithFields(logrus.Fields{
		"addr":      *listenAddr,
		"inference": cfg.Inference.URL,
	}).Info("Starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, ioo, reg, closers...)
}
