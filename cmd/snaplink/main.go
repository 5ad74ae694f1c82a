package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snaplink/snaplink/internal/buildinfo"
	"github.com/snaplink/snaplink/internal/config"
)

func main() {
	role := flag.String("service", "all", "service role to run: all, create, lookup, stats or gateway")
	flag.Parse()

	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log.Printf("snaplink %s (%s, built %s) starting as %q",
		buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime, *role)

	// 2. Wire the requested role
	app, err := newApp(*role, envCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	// 3. Start servers and workers
	errCh := app.Start()

	// 4. Graceful shutdown on signal or server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Printf("received signal %s, shutting down...", sig)
	case err := <-errCh:
		log.Printf("server failed: %v, shutting down...", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	app.Shutdown(ctx)
	log.Println("shutdown complete")
}
