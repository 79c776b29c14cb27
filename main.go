package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/openlot/parkwatch/internal/api"
	"github.com/openlot/parkwatch/internal/capture"
	"github.com/openlot/parkwatch/internal/detect"
	"github.com/openlot/parkwatch/internal/discovery"
	"github.com/openlot/parkwatch/internal/events"
	"github.com/openlot/parkwatch/internal/httputil"
	"github.com/openlot/parkwatch/internal/occupancy"
	"github.com/openlot/parkwatch/internal/relay"
	"github.com/openlot/parkwatch/internal/store"
	"github.com/openlot/parkwatch/internal/timeutil"
	"github.com/openlot/parkwatch/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Read camera sources as local image files instead of spawning ffmpeg")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbFile      = flag.String("db", "parkwatch.db", "SQLite database file")
	detectorURL = flag.String("detector-url", "http://127.0.0.1:9001/detect", "Vehicle detector endpoint")
	ffmpegPath  = flag.String("ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("parkwatch %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		os.Exit(0)
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	db, err := store.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	clock := timeutil.RealClock{}
	bus := events.NewBus(events.DefaultQueueSize)
	defer bus.Close()

	var grabber capture.Grabber
	if *devMode {
		grabber = capture.FileGrabber{}
	} else {
		grabber = &capture.FFmpegGrabber{Path: *ffmpegPath}
	}
	frames := capture.NewRegistry(grabber, clock, capture.DefaultInterval)
	defer frames.StopAll()

	// Resume capture for every known camera.
	cams, err := db.ListCameras()
	if err != nil {
		log.Fatalf("Failed to list cameras: %v", err)
	}
	for _, cam := range cams {
		frames.Start(cam.ID, cam.SourceURI)
	}
	log.Printf("capturing from %d camera(s)", len(cams))

	detector := detect.NewHTTPDetector(
		httputil.NewStandardClient(&http.Client{Timeout: 30 * time.Second}),
		*detectorURL,
	)

	engine := occupancy.NewEngine(clock, bus)
	loop := occupancy.NewLoop(db, frames, detector, engine, clock)
	disc := discovery.NewOrchestrator(db, frames, detector, clock, bus, capture.DefaultInterval)
	rel := relay.NewManager(clock, bus, *ffmpegPath, nil)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// detection cycle loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
		log.Print("occupancy loop terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(db, frames, engine, disc, rel, bus)
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(srv.ServeMux()),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	if err := rel.Stop(); err == nil {
		log.Print("stopped active relay")
	}
	log.Printf("Graceful shutdown complete")
}
