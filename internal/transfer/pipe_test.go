package transfer

import (
	"bytes"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// memChannel is one end of an in-memory data channel. Messages are handed
// to the peer's OnMessage synchronously, in send order.
type memChannel struct {
	mu        sync.Mutex
	label     string
	state     webrtc.DataChannelState
	peer      *memChannel
	buffered  uint64
	threshold uint64
	binary    int
	text      int

	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
	onLow     func()
}

func newPipe() (*memChannel, *memChannel) {
	a := &memChannel{label: ChannelLabel, state: webrtc.DataChannelStateConnecting}
	b := &memChannel{label: ChannelLabel, state: webrtc.DataChannelStateConnecting}
	a.peer, b.peer = b, a
	return a, b
}

// open moves both ends to open and fires their OnOpen handlers.
func (c *memChannel) open() {
	for _, end := range []*memChannel{c, c.peer} {
		end.mu.Lock()
		end.state = webrtc.DataChannelStateOpen
		f := end.onOpen
		end.mu.Unlock()
		if f != nil {
			f()
		}
	}
}

func (c *memChannel) Label() string { return c.label }

func (c *memChannel) ReadyState() webrtc.DataChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *memChannel) Send(data []byte) error {
	return c.write(webrtc.DataChannelMessage{Data: bytes.Clone(data)})
}

func (c *memChannel) SendText(s string) error {
	return c.write(webrtc.DataChannelMessage{IsString: true, Data: []byte(s)})
}

func (c *memChannel) write(msg webrtc.DataChannelMessage) error {
	c.mu.Lock()
	if c.state != webrtc.DataChannelStateOpen {
		c.mu.Unlock()
		return errors.New("mem channel not open")
	}
	if msg.IsString {
		c.text++
	} else {
		c.binary++
	}
	c.mu.Unlock()
	c.peer.deliver(msg)
	return nil
}

func (c *memChannel) deliver(msg webrtc.DataChannelMessage) {
	c.mu.Lock()
	f := c.onMessage
	c.mu.Unlock()
	if f != nil {
		f(msg)
	}
}

func (c *memChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// drain drops the buffered amount to zero and fires OnBufferedAmountLow.
func (c *memChannel) drain() {
	c.mu.Lock()
	c.buffered = 0
	f := c.onLow
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

func (c *memChannel) SetBufferedAmountLowThreshold(th uint64) {
	c.mu.Lock()
	c.threshold = th
	c.mu.Unlock()
}

func (c *memChannel) OnBufferedAmountLow(f func()) {
	c.mu.Lock()
	c.onLow = f
	c.mu.Unlock()
}

func (c *memChannel) OnOpen(f func()) {
	c.mu.Lock()
	c.onOpen = f
	c.mu.Unlock()
}

func (c *memChannel) OnClose(f func()) {
	c.mu.Lock()
	c.onClose = f
	c.mu.Unlock()
}

func (c *memChannel) OnMessage(f func(webrtc.DataChannelMessage)) {
	c.mu.Lock()
	c.onMessage = f
	c.mu.Unlock()
}

func (c *memChannel) Close() error {
	for _, end := range []*memChannel{c, c.peer} {
		end.mu.Lock()
		wasOpen := end.state != webrtc.DataChannelStateClosed
		end.state = webrtc.DataChannelStateClosed
		f := end.onClose
		end.mu.Unlock()
		if wasOpen && f != nil {
			f()
		}
	}
	return nil
}

func (c *memChannel) counts() (text, binary int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, c.binary
}
