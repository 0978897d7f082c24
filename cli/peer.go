package cli

import (
	"strings"

	"github.com/CefBoud/peerbus/admin"
	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/metrics"
	"github.com/CefBoud/peerbus/peer"
	"github.com/CefBoud/peerbus/state"
	"github.com/CefBoud/peerbus/types"
	"github.com/spf13/cobra"
)

var peerFlags struct {
	host          string
	port          int
	directoryHost string
	directoryPort int
	pollInterval  int
	compression   string
	serfAddress   string
	serfJoin      string
	admin         string
}

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run a peer node",
	Example: `  peerbus peer --port 5555
  peerbus peer --port 5556 --compression lz4 --serf-address 127.0.0.1:7947 --serf-join 127.0.0.1:7946`,
	RunE: runPeer,
}

func init() {
	f := peerCmd.Flags()
	f.StringVar(&peerFlags.host, "host", "", "address to bind")
	f.IntVarP(&peerFlags.port, "port", "p", 0, "port to listen on")
	f.StringVar(&peerFlags.directoryHost, "directory-host", "", "directory service host")
	f.IntVar(&peerFlags.directoryPort, "directory-port", 0, "directory service port")
	f.IntVar(&peerFlags.pollInterval, "poll-interval", 0, "milliseconds between pulls of each subscription")
	f.StringVar(&peerFlags.compression, "compression", "", "none, gzip, snappy, lz4 or zstd")
	f.StringVar(&peerFlags.serfAddress, "serf-address", "", "serf bind address")
	f.StringVar(&peerFlags.serfJoin, "serf-join", "", "comma separated serf addresses to join")
	f.StringVar(&peerFlags.admin, "admin", "", "HTTP admin address")
	rootCmd.AddCommand(peerCmd)
}

func peerConfig(cmd *cobra.Command) types.PeerConfig {
	cfg := config.Peer
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = peerFlags.host
	}
	if f.Changed("port") {
		cfg.Port = peerFlags.port
	}
	if f.Changed("directory-host") {
		cfg.DirectoryHost = peerFlags.directoryHost
	}
	if f.Changed("directory-port") {
		cfg.DirectoryPort = peerFlags.directoryPort
	}
	if f.Changed("poll-interval") {
		cfg.PollIntervalMs = peerFlags.pollInterval
	}
	if f.Changed("compression") {
		cfg.Compression = peerFlags.compression
	}
	if f.Changed("serf-address") {
		cfg.SerfAddress = peerFlags.serfAddress
	}
	if f.Changed("serf-join") {
		cfg.SerfJoin = peerFlags.serfJoin
	}
	if f.Changed("admin") {
		config.Admin.Address = peerFlags.admin
	}
	return cfg
}

func runPeer(cmd *cobra.Command, args []string) error {
	p, err := peer.New(peerConfig(cmd))
	if err != nil {
		return err
	}
	if err := p.Startup(); err != nil {
		return err
	}

	var adm *admin.Server
	if config.Admin.Address != "" {
		handler, err := metrics.Setup("peerbus_peer")
		if err != nil {
			p.Shutdown()
			return err
		}
		adm = admin.NewServer("peer", func(prefix string) any {
			stats := []state.TopicStats{}
			for _, st := range p.Topics.Stats() {
				if strings.HasPrefix(st.Topic, prefix) {
					stats = append(stats, st)
				}
			}
			return stats
		}, handler, nil)
		if _, err := adm.Start(config.Admin.Address); err != nil {
			p.Shutdown()
			return err
		}
	}

	go func() {
		if err := p.Serve(); err != nil {
			log.Error("peer stopped serving: %v", err)
		}
	}()
	log.Info("Peer %s listening on %s", p.Address, p.Addr())

	waitForSignal()
	shutdownAdmin(adm)
	p.Shutdown()
	return nil
}
