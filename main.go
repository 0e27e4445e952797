package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/CivicDataHub/CDH-Backend/internal/civic"
	"github.com/CivicDataHub/CDH-Backend/internal/db"
	"github.com/CivicDataHub/CDH-Backend/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	response := "Server is up!"
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, response)
}

func main() {
	_ = godotenv.Load(".env.local")
	db.Connect()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	svc := civic.Init()

	r := chi.NewRouter()
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RateLimitMiddleware(20, 40))
	r.Get("/", RootHandler)

	r.Mount("/api/v1", civic.SetupRoutes(svc))

	fmt.Println("Server listening on port :" + port + "...")

	http.ListenAndServe("0.0.0.0:"+port, r)
}
