package cli

import (
	"github.com/CefBoud/peerbus/admin"
	"github.com/CefBoud/peerbus/directory"
	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/metrics"
	"github.com/CefBoud/peerbus/serde"
	"github.com/CefBoud/peerbus/types"
	"github.com/spf13/cobra"
)

var directoryFlags struct {
	host        string
	port        int
	raft        bool
	raftID      string
	raftAddress string
	dataDir     string
	serfAddress string
	admin       string
}

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Run the directory service",
	Example: `  peerbus directory
  peerbus directory --port 6000 --raft --raft-address 127.0.0.1:7000 --data-dir /var/lib/peerbus`,
	RunE: runDirectory,
}

func init() {
	f := directoryCmd.Flags()
	f.StringVar(&directoryFlags.host, "host", "", "address to bind")
	f.IntVarP(&directoryFlags.port, "port", "p", 0, "port to listen on")
	f.BoolVar(&directoryFlags.raft, "raft", false, "persist the registry in a raft log")
	f.StringVar(&directoryFlags.raftID, "raft-id", "", "raft server id")
	f.StringVar(&directoryFlags.raftAddress, "raft-address", "", "raft transport address")
	f.StringVar(&directoryFlags.dataDir, "data-dir", "", "directory for raft state")
	f.StringVar(&directoryFlags.serfAddress, "serf-address", "", "serf bind address, enables peer leases")
	f.StringVar(&directoryFlags.admin, "admin", "", "HTTP admin address")
	rootCmd.AddCommand(directoryCmd)
}

func directoryConfig(cmd *cobra.Command) types.DirectoryConfig {
	cfg := config.Directory
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = directoryFlags.host
	}
	if f.Changed("port") {
		cfg.Port = directoryFlags.port
	}
	if f.Changed("raft") {
		cfg.Raft = directoryFlags.raft
	}
	if f.Changed("raft-id") {
		cfg.RaftID = directoryFlags.raftID
	}
	if f.Changed("raft-address") {
		cfg.RaftAddress = directoryFlags.raftAddress
	}
	if f.Changed("data-dir") {
		cfg.DataDir = directoryFlags.dataDir
	}
	if f.Changed("serf-address") {
		cfg.SerfAddress = directoryFlags.serfAddress
	}
	if f.Changed("admin") {
		config.Admin.Address = directoryFlags.admin
	}
	return cfg
}

func runDirectory(cmd *cobra.Command, args []string) error {
	d := directory.New(directoryConfig(cmd), serde.Encoder{})
	if err := d.Startup(); err != nil {
		return err
	}

	var adm *admin.Server
	if config.Admin.Address != "" {
		handler, err := metrics.Setup("peerbus_directory")
		if err != nil {
			d.Shutdown()
			return err
		}
		adm = admin.NewServer("directory", func(prefix string) any {
			return d.FSM.ListTopics(prefix)
		}, handler, d.IsLeader)
		if _, err := adm.Start(config.Admin.Address); err != nil {
			d.Shutdown()
			return err
		}
	}

	go func() {
		if err := d.Serve(); err != nil {
			log.Error("directory stopped serving: %v", err)
		}
	}()
	log.Info("Directory service listening on %s", d.Addr())

	waitForSignal()
	shutdownAdmin(adm)
	d.Shutdown()
	return nil
}
