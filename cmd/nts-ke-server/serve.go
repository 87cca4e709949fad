package main

import (
	"crypto/tls"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ddrown/chrony-nts/config"
	"github.com/ddrown/chrony-nts/internal/keyring"
	"github.com/ddrown/chrony-nts/internal/logger"
	"github.com/ddrown/chrony-nts/internal/metrics"
	"github.com/ddrown/chrony-nts/internal/ntske"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the NTS-KE listener until interrupted",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	tlsConfig, err := loadTLSConfig(cfg)
	if err != nil {
		return fmt.Errorf("loading TLS material: %w", err)
	}

	ring, err := keyring.New(log)
	if err != nil {
		return fmt.Errorf("building key ring: %w", err)
	}
	ring.StartRotation(cfg.KeyRing.RotationPeriod)
	defer ring.Stop()

	server := ntske.NewServer(tlsConfig, ring, log)
	server.NTPPort, server.AdvertisePort = cfg.NTSKE.AdvertisedNTPPort()

	g, ctx := errgroup.WithContext(cmd.Context())

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		g.Go(func() error {
			log.Info("starting metrics server", logger.String("addr", cfg.Metrics.Addr))
			return metrics.StartServer(cfg.Metrics.Addr)
		})
	}

	g.Go(func() error {
		log.Info("starting NTS-KE listener", logger.Int("port", cfg.NTSKE.ListenPort))
		return server.ListenAndServe(cfg.NTSKE.ListenPort)
	})

	g.Go(func() error {
		<-ctx.Done()
		return server.Close()
	})

	return g.Wait()
}

func loadTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"ntske/1"},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
