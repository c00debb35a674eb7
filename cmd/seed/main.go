// Package main loads development fixtures into the growth database.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	seedcmd "github.com/louisbranch/rockettree/internal/cmd/seed"
	"github.com/louisbranch/rockettree/internal/platform/config"
)

func main() {
	cfg, err := seedcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	config.ExitIfError("parse flags", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = seedcmd.Run(ctx, cfg, os.Stdout)
	stop()
	config.ExitIfError("seed", err)
}
