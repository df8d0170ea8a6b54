package transfer

import "github.com/pion/webrtc/v4"

// Channel is the part of *webrtc.DataChannel the endpoint drives.
type Channel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	Send(data []byte) error
	SendText(s string) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)
	OnBufferedAmountLow(f func())
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	Close() error
}

var _ Channel = (*webrtc.DataChannel)(nil)
