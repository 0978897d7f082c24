package peer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/CefBoud/peerbus/compress"
	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/protocol"
	"github.com/CefBoud/peerbus/serde"
	"github.com/CefBoud/peerbus/state"
	"github.com/CefBoud/peerbus/types"
	"github.com/CefBoud/peerbus/utils"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/serf/serf"
)

// Delivery tells how a message reached a subscriber
type Delivery int

// Push is a receive_message sent by the owner on publish, Pull is a message
// returned to the background poller.
const (
	Push Delivery = iota
	Pull
)

func (d Delivery) String() string {
	if d == Push {
		return "push"
	}
	return "pull"
}

// Message is a message surfaced to the local consumer of a subscription.
// A message may be surfaced twice, once pushed and once pulled.
type Message struct {
	Topic    string
	Payload  string
	Delivery Delivery
}

// Peer hosts topics, forwards publishes to their owner and subscribes to
// topics hosted elsewhere.
type Peer struct {
	Config  types.PeerConfig
	Address types.PeerAddress
	Topics  *state.Table
	Client  *protocol.Client
	Serf    *serf.Serf

	// OnMessage receives pushed and pulled messages. It defaults to logging
	// them and must be safe for concurrent use.
	OnMessage func(Message)

	ShutDownSignal chan struct{}

	server        *protocol.Server
	mu            sync.Mutex
	subscriptions map[string]*subscription
	wg            sync.WaitGroup
	logger        hclog.Logger
}

// New creates a peer from its configuration. Nothing is started until
// Startup.
func New(config types.PeerConfig) (*Peer, error) {
	compression, err := compress.ParseCompressionType(config.Compression)
	if err != nil {
		return nil, err
	}
	enc := serde.Encoder{Compression: compression, Threshold: config.CompressionThreshold}
	host, err := utils.AdvertiseHost(config.Host)
	if err != nil {
		return nil, err
	}

	p := &Peer{
		Config:         config,
		Address:        types.PeerAddress{Host: host, Port: config.Port},
		Topics:         state.NewTable(),
		Client:         protocol.NewClient(config.CallTimeout(), enc),
		ShutDownSignal: make(chan struct{}),
		subscriptions:  make(map[string]*subscription),
		logger:         log.Named("peer"),
	}
	p.OnMessage = p.logMessage
	p.server = protocol.NewServer("peer", p, enc)
	return p, nil
}

// Startup binds the listener, registers with the directory and joins the
// serf cluster when one is configured. Call Serve afterwards.
func (p *Peer) Startup() error {
	address := net.JoinHostPort(p.Config.Host, strconv.Itoa(p.Config.Port))
	if err := p.server.Listen(address); err != nil {
		return err
	}
	if p.Address.Port == 0 {
		p.Address.Port = p.server.Addr().(*net.TCPAddr).Port
	}
	p.logger = p.logger.With("peer", p.Address.String())

	if err := p.registerWithDirectory(context.Background()); err != nil {
		p.server.Close()
		return fmt.Errorf("could not register with directory: %w", err)
	}

	if p.Config.SerfAddress != "" {
		if err := p.SetupSerf(); err != nil {
			log.Error("Serf setup failed, running without a liveness lease: %v", err)
		}
	}
	return nil
}

// Serve accepts connections until Shutdown
func (p *Peer) Serve() error {
	return p.server.Serve()
}

// Addr returns the address the peer listens on
func (p *Peer) Addr() net.Addr {
	return p.server.Addr()
}

// Shutdown stops accepting connections and the pollers, then unregisters
// from the directory if configured to. In-flight connections are not
// drained.
func (p *Peer) Shutdown() {
	select {
	case <-p.ShutDownSignal:
		return
	default:
	}
	close(p.ShutDownSignal)
	log.Info("Peer %s shutting down...", p.Address)
	if err := p.server.Close(); err != nil {
		log.Warn("error closing listener: %v", err)
	}

	p.mu.Lock()
	for topic, sub := range p.subscriptions {
		sub.cancel()
		delete(p.subscriptions, topic)
	}
	p.mu.Unlock()
	p.wg.Wait()

	if p.Serf != nil {
		if err := p.Serf.Leave(); err != nil {
			log.Error("Serf leave failed: %s", err)
		}
		p.Serf.Shutdown()
	}

	if p.Config.UnregisterOnShutdown {
		removed, err := p.unregisterFromDirectory(context.Background())
		if err != nil {
			log.Warn("could not unregister from directory: %v", err)
		} else {
			log.Info("Unregistered from directory, removed topics %v", removed)
		}
	}
}

func (p *Peer) logMessage(m Message) {
	p.logger.Info("received message", "topic", m.Topic, "message", m.Payload, "delivery", m.Delivery)
}

func (p *Peer) deliver(m Message) {
	if p.OnMessage != nil {
		p.OnMessage(m)
	}
}
