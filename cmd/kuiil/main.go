package main

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/kuiil"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/prometheus"
	"go.uber.org/zap"
)

func main() {
	err := config.Validate()
	if err != nil {
		logging.Logger.Fatal("invalid configuration", zap.String("error", err.Error()))
	}

	err = logging.Setup()
	if err != nil {
		logging.Logger.Fatal("failed to set up logger", zap.String("error", err.Error()))
	}

	go prometheus.Run()

	for {
		ctx, cancel := context.WithCancel(context.Background())

		app, err := kuiil.NewApp(cancel)
		if err != nil {
			logging.Logger.Fatal("failed to create kuiil app", zap.String("error", err.Error()))
		}

		err = app.Run(ctx)
		if err != nil {
			panic(err)
		}

		<-ctx.Done()

		app.HealthCheckerService.Check()

		cancel()
	}
}
