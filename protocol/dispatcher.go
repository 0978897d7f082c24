package protocol

import "github.com/CefBoud/peerbus/types"

// Directory commands
const (
	RegisterPeerCommand   = "register_peer"
	UnregisterPeerCommand = "unregister_peer"
	AddTopicCommand       = "add_topic"
	DeleteTopicCommand    = "delete_topic"
	QueryTopicCommand     = "query_topic"
	ListTopicsCommand     = "list_topics"
)

// Peer commands. delete_topic is shared with the directory.
const (
	CreateTopicCommand         = "create_topic"
	PublishCommand             = "publish"
	SubscribeCommand           = "subscribe"
	UnsubscribeCommand         = "unsubscribe"
	SubscribeToPeerCommand     = "subscribe_to_peer"
	UnsubscribeFromPeerCommand = "unsubscribe_from_peer"
	PullCommand                = "pull"
	ReceiveMessageCommand      = "receive_message"
	// AnnounceCommand is sent by the directory to a peer it lost and that
	// came back; the peer registers again with all its topics.
	AnnounceCommand = "announce"
)

// CommandHandler represents a command with its handler
type CommandHandler struct {
	Name    string
	Handler func(req types.Request) types.Response
}

// Dispatcher maps a command name to its handler. ok is false for unknown
// commands.
type Dispatcher interface {
	Dispatch(command string) (handler CommandHandler, ok bool)
}
