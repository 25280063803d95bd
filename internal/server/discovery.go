package server

import (
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"

	"github.com/skypro1111/reblock-audio-service/internal/config"
)

// Advertiser publishes the HTTP API over mDNS
type Advertiser struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// discoveryTXT returns the TXT records of the advertisement
func discoveryTXT(sampleRate, quantumSize, nodes int) []string {
	return []string{
		"service=" + ServiceName,
		"version=" + ServiceVersion,
		fmt.Sprintf("sample_rate=%d", sampleRate),
		fmt.Sprintf("quantum_size=%d", quantumSize),
		fmt.Sprintf("nodes=%d", nodes),
	}
}

// StartAdvertiser registers the API on port under cfg's instance, service
// and domain.
func StartAdvertiser(cfg config.DiscoveryConfig, port int, txt []string, logger *slog.Logger) (*Advertiser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid discovery config: %w", err)
	}

	server, err := zeroconf.Register(cfg.Instance, cfg.Service, cfg.Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register failed: %w", err)
	}

	logger.Info("Advertised HTTP API over mDNS",
		slog.String("instance", cfg.Instance),
		slog.String("service", cfg.Service),
		slog.String("domain", cfg.Domain),
		slog.Int("port", port),
	)

	return &Advertiser{server: server, logger: logger}, nil
}

// NewAdvertisement builds the TXT records and starts advertising for an
// engine configuration.
func NewAdvertisement(appConfig *config.Config, logger *slog.Logger) (*Advertiser, error) {
	txt := discoveryTXT(appConfig.Engine.SampleRate, appConfig.Engine.QuantumSize, len(appConfig.Nodes))
	return StartAdvertiser(appConfig.Discovery, appConfig.HTTP.Port, txt, logger)
}

// Stop withdraws the advertisement
func (a *Advertiser) Stop() {
	a.server.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
}
