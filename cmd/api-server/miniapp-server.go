package main

import (
	"log"
	"net/http"
	"os"

	"github.com/zerotto-annme/maistergo-miniapp/db"
	"github.com/zerotto-annme/maistergo-miniapp/db/migrations"
	"github.com/zerotto-annme/maistergo-miniapp/internal/handlers"
	"github.com/zerotto-annme/maistergo-miniapp/internal/notify"
	"github.com/zerotto-annme/maistergo-miniapp/internal/uploads"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func main() {
	connString := os.Getenv("POSTGRES_CONN")
	if connString == "" {
		log.Fatal("POSTGRES_CONN env variable is not set")
	}

	dbConn, err := sqlx.Connect("postgres", connString)
	if err != nil {
		log.Fatalf("Cannot connect to DB: %v", err)
	}
	defer dbConn.Close()

	// Схема накатывается до приёма трафика
	migrations.Run(dbConn)

	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	devBypass := os.Getenv("DEV_BYPASS_AUTH") == "true"
	if botToken == "" && !devBypass {
		log.Fatal("TELEGRAM_BOT_TOKEN is not set and DEV_BYPASS_AUTH is off")
	}

	uploadsDir := os.Getenv("UPLOADS_DIR")
	if uploadsDir == "" {
		uploadsDir = "static/uploads"
	}
	uploadStore, err := uploads.NewStore(uploadsDir)
	if err != nil {
		log.Fatalf("Cannot prepare uploads dir: %v", err)
	}

	store := db.NewStorage(dbConn)
	notifier := notify.NewTelegramNotifier(botToken)
	h := handlers.NewHandler(store, notifier, uploadStore, botToken, devBypass)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)
		r.Get("/service-categories", h.ServiceCategoriesHandler)
		// аккаунт
		r.Get("/me", h.GetMeHandler)
		r.Post("/me/photo", h.UpdateMyPhotoHandler)
		r.Post("/register", h.RegisterHandler)
		r.Post("/telegram/link", h.LinkTelegramChatHandler)
		// задачи
		r.Post("/tasks", h.CreateTaskHandler)
		r.Get("/tasks", h.GetTasksHandler)
		r.Get("/cabinet/tasks", h.GetCabinetTasksHandler)
		// отклики
		r.Get("/tasks/{taskId}/bids", h.GetTaskBidsHandler)
		r.Post("/tasks/{taskId}/bids", h.CreateBidHandler)
		r.Post("/bids/{bidId}/accept", h.AcceptBidHandler)
		r.Post("/bids/{bidId}/complete", h.CompleteBidHandler)
		r.Post("/bids/{bidId}/review", h.CreateReviewHandler)
		r.Get("/bids/{bidId}/client-contact", h.GetClientContactHandler)
		r.Get("/performers/{performerId}/profile", h.GetPerformerProfileHandler)
	})

	fileServer := http.StripPrefix("/static/uploads/", http.FileServer(http.Dir(uploadsDir)))
	r.Get("/static/uploads/*", fileServer.ServeHTTP)

	serverAddr := os.Getenv("SERVER_ADDRESS")
	if serverAddr == "" {
		serverAddr = "0.0.0.0:8080"
	}

	log.Printf("Starting server on %s", serverAddr)
	log.Fatal(http.ListenAndServe(serverAddr, r))
}
