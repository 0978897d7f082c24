package types

// Request is one command sent over a peerbus connection. Only the fields
// relevant to Command are set; the rest are omitted on the wire.
type Request struct {
	Command        string `json:"command"`
	Topic          string `json:"topic,omitempty"`
	Message        string `json:"message,omitempty"`
	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	SubscriberHost string `json:"subscriber_host,omitempty"`
	SubscriberPort int    `json:"subscriber_port,omitempty"`
	Prefix         string `json:"prefix,omitempty"`
	// Forwarded marks a publish relayed by a non-owner; the receiver must
	// not forward it again.
	Forwarded bool `json:"forwarded,omitempty"`

	// ConnectionAddress is the remote address of the connection the request
	// arrived on. It never travels on the wire.
	ConnectionAddress string `json:"-"`
}

// Subscriber returns the subscriber identity carried by the request. When
// the sender omitted its host, the host of the connection is used.
func (r Request) Subscriber() (PeerAddress, bool) {
	if r.SubscriberPort == 0 {
		return PeerAddress{}, false
	}
	host := r.SubscriberHost
	if host == "" {
		host = HostOf(r.ConnectionAddress)
	}
	return PeerAddress{Host: host, Port: r.SubscriberPort}, true
}

// Response statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// TopicEntry is one topic → owner mapping, as listed by the directory.
type TopicEntry struct {
	Topic string `json:"topic"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
}

// Response is the single reply written for every Request.
type Response struct {
	Status   string       `json:"status"`
	Code     string       `json:"code,omitempty"`
	Message  string       `json:"message,omitempty"`
	Host     string       `json:"host,omitempty"`
	Port     int          `json:"port,omitempty"`
	Messages []string     `json:"messages,omitempty"`
	Topics   []TopicEntry `json:"topics,omitempty"`
	Removed  []string     `json:"removed,omitempty"`
	// More is set on a pull that returned only part of the buffer
	More bool `json:"more,omitempty"`
}

// OK reports whether the response carries a success status.
func (r Response) OK() bool {
	return r.Status == StatusSuccess
}

// Success builds a success response with a human readable message.
func Success(message string) Response {
	return Response{Status: StatusSuccess, Message: message}
}
