package session

import "context"

// IQ types carried by Stanza.Type.
const (
	IQGet    = "get"
	IQSet    = "set"
	IQResult = "result"
	IQError  = "error"
)

// Query is one outbound vCard get.
type Query struct {
	ID string
	To string
}

// Stanza is one inbound IQ. Payload is the raw inner XML of the iq element.
type Stanza struct {
	ID      string
	From    string
	Type    string
	Payload []byte
}

// Transport is one authenticated upstream connection. Recv is only called
// from a single reader goroutine; Send is serialized by the Manager. Close
// must unblock a pending Recv.
type Transport interface {
	Send(q Query) error
	Recv() (Stanza, error)
	Close() error
}

// Dialer establishes a Transport. Dial returns once the upstream session is
// established (authenticated and bound).
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}
