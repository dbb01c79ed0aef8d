package main

import (
	"log"
	"net/http"
	"os"

	"github.com/stetops/stet/internal/server"
)

func main() {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	handler, err := server.NewHandler()
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal(err)
	}
}
