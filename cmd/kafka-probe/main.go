package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dbranscombe/kafka-net/internal/probe"
	"github.com/dbranscombe/kafka-net/logger"
)

func main() {
	var cfgFile string

	root := &cobra.Command{
		Use:   "kafka-probe",
		Short: "Periodically verifies broker reachability over the kafka-net transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := probe.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			lg, err := logger.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer lg.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return probe.Run(ctx, cfg, lg)
		},
	}

	root.Flags().StringVar(&cfgFile, "config", "", "path to config file (optional; ENV with KAFKA_PROBE_ prefix also applies)")
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
