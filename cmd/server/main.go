package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"robot-battle/internal/api"
	"robot-battle/internal/config"
	"robot-battle/internal/eventlog"
	"robot-battle/internal/match"
	"robot-battle/internal/metrics"
	"robot-battle/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables only")
	}

	log.Println("================================")
	log.Println(" ROBOT BATTLE SERVER")
	log.Println("================================")

	appConfig := config.Load()

	eventLog := eventlog.New()
	eventLogPath := getEnvWithDefault("EVENT_LOG_PATH", "events.jsonl")
	if err := eventLog.Start(eventLogPath); err != nil {
		log.Printf("event log disabled: %v", err)
	} else {
		log.Printf("event log: %s", eventLogPath)
	}

	sink := openResultSink(appConfig.Storage)

	registry := match.NewRegistry(appConfig.Game, sink, eventLog)

	server := api.NewServer(registry, eventLog, appConfig.Server, appConfig.Limits)

	debugCfg := metrics.ObservabilityConfig{
		Enabled:    os.Getenv("DISABLE_DEBUG_SERVER") != "true",
		ListenAddr: "127.0.0.1:" + strconv.Itoa(appConfig.Server.DebugPort),
	}
	if err := metrics.StartDebugServer(debugCfg); err != nil {
		log.Printf("debug server disabled: %v", err)
	}

	addr := ":" + strconv.Itoa(appConfig.Server.Port)
	go func() {
		log.Printf("listening on http://localhost%s", addr)
		log.Printf("play:  ws://localhost%s/api/play/{matchID}", addr)
		log.Printf("watch: ws://localhost%s/api/watch/{matchID}", addr)
		if err := server.Start(addr); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	log.Println("server ready, press Ctrl+C to stop")
	<-quit

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	eventLog.Stop()
	log.Println("goodbye")
}

func openResultSink(cfg config.StorageConfig) storage.ResultSink {
	if cfg.DSN == "" {
		return storage.NoOpSink{}
	}
	db, err := storage.Open(cfg.DSN)
	if err != nil {
		log.Printf("storage disabled, falling back to no-op sink: %v", err)
		return storage.NoOpSink{}
	}
	return db
}

func getEnvWithDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
