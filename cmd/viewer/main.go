// Package main starts the viewer polling session.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	viewercmd "github.com/louisbranch/rockettree/internal/cmd/viewer"
)

func main() {
	cfg, err := viewercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[VIEWER] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := viewercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("viewer stopped: %v", err)
	}
}
