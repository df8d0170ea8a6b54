package transfer

import "time"

const (
	ChannelLabel = "chat"

	ChunkSize       = 16 * 1024       // 16 KB - max binary frame
	HighWaterMark   = 2 * 1024 * 1024 // 2 MB - backpressure threshold
	LowWaterMark    = 512 * 1024      // 512 KB - resume threshold
	SendTimeout     = 60 * time.Second
	DefaultMIMEType = "application/octet-stream"
)
