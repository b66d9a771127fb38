package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mos/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunFromEnv(ctx, app.ServiceMachine, os.LookupEnv); err != nil {
		log.WithError(err).Fatal("machine service exited with error")
	}
}
