package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"promptarena/internal/archive"
	"promptarena/internal/dispatch"
	"promptarena/internal/playground"
	"promptarena/internal/resultcache"
	"promptarena/internal/worker"
)

func main() {
	port := flag.String("port", ":8080", "server port")
	flag.Parse()

	_ = godotenv.Load()

	var bridge *worker.WSBridge
	factory := workerFactory(&bridge)

	store := archive.NewFromEnv()
	defer store.Close()

	app := playground.New(playground.Options{
		Worker:  factory,
		Results: resultcache.NewFromEnv(),
		Archive: store,
		Meta:    metaFromEnv(),
	})
	app.Start()
	defer app.Stop()

	srv := &server{app: app, archive: store}

	mux := http.NewServeMux()
	srv.register(mux)
	if bridge != nil {
		mux.HandleFunc("/ws/worker", bridge.HandleWS)
	}

	log.Printf("Starting playground server on %s", *port)
	log.Fatal(http.ListenAndServe(*port, withCORS(mux)))
}

// workerFactory picks the execution backend from WORKER_MODE. The bridge
// pointer is filled in when the websocket mode is selected so main can mount
// its handler.
func workerFactory(bridge **worker.WSBridge) playground.WorkerFactory {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("WORKER_MODE")))
	switch mode {
	case "ws":
		return func(sink worker.Sink) worker.Worker {
			b := worker.NewWSBridge(sink)
			*bridge = b
			return b
		}
	case "gemini":
		return func(sink worker.Sink) worker.Worker {
			w, err := worker.NewGenAIWorker(context.Background(), os.Getenv("GEMINI_MODEL"), sink)
			if err != nil {
				log.Printf("gemini worker unavailable, using fake: %v", err)
				return worker.NewFakeWorker(sink)
			}
			return w
		}
	default:
		return nil
	}
}

func metaFromEnv() dispatch.Meta {
	return dispatch.Meta{
		AppID:     os.Getenv("APP_ID"),
		AppType:   os.Getenv("APP_TYPE"),
		ProjectID: os.Getenv("PROJECT_ID"),
		URI:       os.Getenv("APP_URI"),
		APIURL:    os.Getenv("API_URL"),
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
