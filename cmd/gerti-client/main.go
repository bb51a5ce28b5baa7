package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/api"
	"github.com/ZentaChain/gerti-client/pkg/config"
	"github.com/ZentaChain/gerti-client/pkg/crypto"
	"github.com/ZentaChain/gerti-client/pkg/keystore"
	"github.com/ZentaChain/gerti-client/pkg/logging"
	"github.com/ZentaChain/gerti-client/pkg/metrics"
	"github.com/ZentaChain/gerti-client/pkg/network"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
	"github.com/ZentaChain/gerti-client/pkg/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gerti-client: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load("gerti-client", args)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	identity, err := loadIdentity(cfg)
	if err != nil {
		return err
	}
	logger.Info("Identity loaded",
		zap.Stringer("address", identity.Address()),
		zap.String("fingerprint", crypto.Fingerprint(identity.PublicKey())))

	keys := keystore.Open(cfg.KeyStorePath)
	if err := keys.Warm(); err != nil {
		return fmt.Errorf("failed to load key store: %w", err)
	}
	logger.Info("Key store loaded", zap.String("path", keys.Path()), zap.Int("keys", keys.Len()))

	targets, err := peerTargets(cfg, logger)
	if err != nil {
		return err
	}

	version, err := cfg.ProtocolVersion()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(metrics.DefaultNamespace, registry)

	inbox, err := storage.Open(cfg.InboxPath, storage.Options{TTL: cfg.InboxTTL, Logger: logger})
	if err != nil {
		return err
	}
	defer inbox.Close()

	pool := network.NewPool(network.PoolConfig{
		Identity: identity,
		Keys:     keys,
		Options: network.Options{
			Version: version,
			Logger:  logger,
			Metrics: recorder,
		},
		Backoff: network.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		s := &sink{inbox: inbox, log: logger.Named("sink")}
		for ev := range pool.Events() {
			s.handle(ev)
		}
	}()

	for _, t := range targets {
		if err := pool.Add(t.name, t.addr); err != nil {
			pool.Close()
			<-sinkDone
			return err
		}
	}
	logger.Info("Connecting to peers", zap.Int("count", len(targets)), zap.Stringer("version", version))

	apiErr := make(chan error, 1)
	if cfg.APIAddr != "" {
		apiCfg := api.DefaultConfig()
		apiCfg.Addr = cfg.APIAddr

		server, err := api.NewServer(api.Deps{
			Identity: identity,
			Pool:     pool,
			Inbox:    inbox,
			Gatherer: registry,
			Logger:   logger,
		}, apiCfg)
		if err != nil {
			pool.Close()
			<-sinkDone
			return err
		}
		go func() { apiErr <- server.Start(ctx) }()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-apiErr:
		if err != nil {
			logger.Error("HTTP API stopped", zap.Error(err))
		}
		stop()
	}

	if cerr := pool.Close(); cerr != nil && !errors.Is(cerr, network.ErrPoolClosed) {
		logger.Warn("Failed to close pool", zap.Error(cerr))
	}
	<-sinkDone

	return err
}

func loadIdentity(cfg config.Config) (*protocol.Identity, error) {
	pemData, err := crypto.LoadKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity key: %w", err)
	}

	key, err := crypto.ImportPrivateKeyPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity key %s: %w", cfg.KeyPath, err)
	}

	return protocol.ParseIdentity(cfg.Address, key)
}

type target struct {
	name string
	addr ma.Multiaddr
}

// peerTargets merges the peer-list file with extra multiaddrs. A missing
// peer-list file is tolerated when extra peers were given.
func peerTargets(cfg config.Config, log *zap.Logger) ([]target, error) {
	var targets []target

	if cfg.PeersPath != "" {
		peers, err := config.LoadPeers(cfg.PeersPath)
		switch {
		case errors.Is(err, os.ErrNotExist) && len(cfg.PeerAddrs) > 0:
			log.Warn("Peer list not found, using extra peers only", zap.String("path", cfg.PeersPath))
		case err != nil:
			return nil, err
		}

		for _, p := range peers {
			addr, err := p.Multiaddr(p.Port(cfg.PortMode))
			if err != nil {
				return nil, err
			}
			targets = append(targets, target{name: p.Name(cfg.PortMode), addr: addr})
		}
	}

	for _, s := range cfg.PeerAddrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid peer %q: %w", s, err)
		}
		targets = append(targets, target{name: s, addr: addr})
	}

	if len(targets) == 0 {
		return nil, errors.New("no peers to connect to")
	}
	return targets, nil
}
