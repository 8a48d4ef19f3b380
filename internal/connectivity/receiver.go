package connectivity

import "sync/atomic"

// MessageHandler receives one incoming message matching a Receiver's topic
// filter.
type MessageHandler func(topic string, payload []byte)

// Receiver subscribes lazily: constructing one via Client.CreateReceiver
// does not itself issue a subscribe, only Subscribe does, per spec.md §4.I.
type Receiver struct {
	topic      string
	client     *Client
	handler    atomic.Pointer[MessageHandler]
	subscribed atomic.Bool
}

// OnMessage installs the callback invoked for every message matching this
// receiver's topic filter. Safe to call at any time, including after
// Subscribe.
func (r *Receiver) OnMessage(h MessageHandler) {
	r.handler.Store(&h)
}

// Subscribe marks the topic desired and, if currently connected, issues the
// subscribe immediately. Idempotent.
func (r *Receiver) Subscribe() {
	r.subscribed.Store(true)
	r.client.subscribe(r.topic)
}

// Topic returns the receiver's subscription filter.
func (r *Receiver) Topic() string { return r.topic }

func (r *Receiver) dispatch(topic string, payload []byte) {
	if h := r.handler.Load(); h != nil {
		(*h)(topic, payload)
	}
}
