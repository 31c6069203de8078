package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the outbox replay worker and block until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			worker := a.newWorker()
			worker.Start(ctx)
			a.log.Info("axiomme serve started", map[string]any{"workspace": a.cfg.GetDataDir()})

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			worker.Stop()
			a.log.Info("axiomme serve stopped", nil)
			return nil
		},
	}
}
