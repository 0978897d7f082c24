package peer

import (
	"fmt"
	"strings"

	"github.com/CefBoud/peerbus/directory"
	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/utils"
	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"github.com/hashicorp/serf/serf"
)

// SetupSerf starts the serf agent and joins the directory's cluster. The
// directory unregisters this peer when its member fails or leaves.
func (p *Peer) SetupSerf() error {
	bindIP, bindPort, err := utils.SplitHostPort(p.Config.SerfAddress)
	if err != nil {
		return err
	}
	logger := log.Named("serf").StandardLogger(nil)

	conf := serf.DefaultConfig()
	conf.Init()
	conf.NodeName = fmt.Sprintf("peer-%s", uuid.NewString())
	conf.MemberlistConfig = memberlist.DefaultLANConfig()
	conf.MemberlistConfig.BindAddr = bindIP
	conf.MemberlistConfig.BindPort = bindPort
	conf.MemberlistConfig.Logger = logger
	conf.Logger = logger
	for k, v := range directory.PeerTags(p.Address) {
		conf.Tags[k] = v
	}

	p.Serf, err = serf.Create(conf)
	if err != nil {
		return err
	}

	if len(p.Config.SerfJoin) > 0 {
		existingSerfNodes := strings.Split(p.Config.SerfJoin, ",")
		log.Info("joining serf nodes: %v", existingSerfNodes)
		n, err := p.Serf.Join(existingSerfNodes, true)
		if err != nil {
			return fmt.Errorf("couldn't join serf cluster: %w", err)
		}
		log.Info("Serf join: successfully contacted %v node. Members: %v", n, p.Serf.Members())
	}
	return nil
}
