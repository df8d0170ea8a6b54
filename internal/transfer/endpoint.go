package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// FileMeta describes a file announced by file-meta.
type FileMeta struct {
	Name string
	MIME string
	Size int64
}

// File is a fully received file.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Progress reports how far a transfer in either direction has come.
type Progress struct {
	Name  string
	Done  int64
	Total int64
	Speed float64 // bytes per second
}

// Fraction returns Done/Total, or 1 for an empty file.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 1
	}
	return float64(p.Done) / float64(p.Total)
}

// Handlers are invoked from the channel's message goroutine. Nil handlers
// are skipped. None fire after Close.
type Handlers struct {
	OnOpen      func()
	OnText      func(text string)
	OnFileStart func(meta FileMeta)
	OnProgress  func(p Progress)
	OnFile      func(f File)
	OnError     func(err error)
	OnClose     func()
}

type Options struct {
	Handlers Handlers
	Logger   *slog.Logger

	// MaxFileSize rejects inbound file-meta frames declaring more bytes.
	// Zero means no limit.
	MaxFileSize int64

	// SendTimeout bounds each wait for the buffered amount to drain.
	SendTimeout time.Duration
}

// Endpoint speaks the chat and file framing over one data channel.
type Endpoint struct {
	ch          Channel
	handlers    Handlers
	logger      *slog.Logger
	maxFileSize int64
	sendTimeout time.Duration

	// sendMu serializes outbound file transfers.
	sendMu sync.Mutex

	mu     sync.Mutex
	recv   *record
	closed bool

	low       chan struct{}
	done      chan struct{}
	openOnce  sync.Once
	closeOnce sync.Once
}

// NewEndpoint installs the endpoint's callbacks on ch.
func NewEndpoint(ch Channel, opts Options) *Endpoint {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = SendTimeout
	}

	e := &Endpoint{
		ch:          ch,
		handlers:    opts.Handlers,
		logger:      logger.With("component", "transfer", "channel", ch.Label()),
		maxFileSize: opts.MaxFileSize,
		sendTimeout: opts.SendTimeout,
		low:         make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	ch.SetBufferedAmountLowThreshold(LowWaterMark)
	ch.OnBufferedAmountLow(func() {
		select {
		case e.low <- struct{}{}:
		default:
		}
	})
	ch.OnOpen(e.handleOpen)
	ch.OnMessage(e.handleMessage)
	ch.OnClose(e.handleClose)

	if ch.ReadyState() == webrtc.DataChannelStateOpen {
		go e.handleOpen()
	}
	return e
}

// Ready reports whether the channel is open and the endpoint not closed.
func (e *Endpoint) Ready() bool {
	return !e.isClosed() && e.ch.ReadyState() == webrtc.DataChannelStateOpen
}

// SendText sends a chat message.
func (e *Endpoint) SendText(text string) error {
	if err := e.checkSendable("send text"); err != nil {
		return err
	}
	frame, err := encodeFrame(textFrame{Type: FrameText, Content: text})
	if err != nil {
		return NewError("send text", err)
	}
	if err := e.ch.SendText(frame); err != nil {
		return NewError("send text", err)
	}
	return nil
}

// SendFile streams meta.Size bytes from r as file-meta, binary chunks of at
// most ChunkSize bytes, then file-end. onProgress, if set, is called after
// each chunk. Transfers on one endpoint run one at a time.
func (e *Endpoint) SendFile(ctx context.Context, meta FileMeta, r io.Reader, onProgress func(Progress)) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	if meta.Name == "" || meta.Size < 0 {
		return NewFileError("send file", meta.Name, ErrInvalidMetadata)
	}
	if meta.MIME == "" {
		meta.MIME = DefaultMIMEType
	}
	if err := e.checkSendable("send file"); err != nil {
		return err
	}

	start, err := encodeFrame(fileMetaFrame{Type: FrameFileMeta, Name: meta.Name, MIME: meta.MIME, Size: meta.Size})
	if err != nil {
		return NewFileError("send file", meta.Name, err)
	}
	if err := e.ch.SendText(start); err != nil {
		return NewFileError("send file", meta.Name, err)
	}

	meter := NewRateMeter()
	var sent int64
	for sent < meta.Size {
		if err := ctx.Err(); err != nil {
			return NewFileError("send file", meta.Name, err)
		}

		chunk := make([]byte, min(int64(ChunkSize), meta.Size-sent))
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return NewFileError("read file", meta.Name, err)
		}

		if err := e.waitForWindow(ctx); err != nil {
			return NewFileError("send file", meta.Name, err)
		}
		if err := e.ch.Send(chunk); err != nil {
			return NewFileError("send chunk", meta.Name, err)
		}

		sent += int64(len(chunk))
		speed := meter.Record(int64(len(chunk)))
		if onProgress != nil {
			onProgress(Progress{Name: meta.Name, Done: sent, Total: meta.Size, Speed: speed})
		}
	}

	end, err := encodeFrame(fileEndFrame{Type: FrameFileEnd, Name: meta.Name})
	if err != nil {
		return NewFileError("send file", meta.Name, err)
	}
	if err := e.ch.SendText(end); err != nil {
		return NewFileError("send file", meta.Name, err)
	}

	if meta.Size == 0 && onProgress != nil {
		onProgress(Progress{Name: meta.Name})
	}
	e.logger.Debug("file sent", "file", meta.Name, "bytes", sent)
	return nil
}

// Close drops any partially received file and closes the channel. No
// handler fires afterwards and sends in progress fail with ErrChannelClosed.
func (e *Endpoint) Close() error {
	if !e.shutdown() {
		return nil
	}
	return e.ch.Close()
}

// Done is closed once the endpoint or its channel has closed.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

func (e *Endpoint) checkSendable(op string) error {
	if e.isClosed() {
		return NewError(op, ErrChannelClosed)
	}
	if e.ch.ReadyState() != webrtc.DataChannelStateOpen {
		e.logger.Warn("data channel not open, dropping outbound message", "op", op)
		return NewError(op, ErrChannelNotReady)
	}
	return nil
}

// waitForWindow blocks while the channel's buffered amount is above the
// high water mark.
func (e *Endpoint) waitForWindow(ctx context.Context) error {
	for e.ch.BufferedAmount() >= HighWaterMark {
		timer := time.NewTimer(e.sendTimeout)
		select {
		case <-e.low:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-e.done:
			timer.Stop()
			return ErrChannelClosed
		case <-timer.C:
			return ErrBufferTimeout
		}
	}
	return nil
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// shutdown marks the endpoint closed and reports whether this call did it.
func (e *Endpoint) shutdown() bool {
	first := false
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.recv = nil
		e.mu.Unlock()
		close(e.done)
		first = true
	})
	return first
}

// handleOpen may be reached twice when the channel was already open at
// construction; OnOpen fires once.
func (e *Endpoint) handleOpen() {
	e.openOnce.Do(func() {
		if e.isClosed() {
			return
		}
		e.logger.Debug("data channel open")
		if e.handlers.OnOpen != nil {
			e.handlers.OnOpen()
		}
	})
}

func (e *Endpoint) handleClose() {
	if !e.shutdown() {
		return
	}
	e.logger.Debug("data channel closed by peer")
	if e.handlers.OnClose != nil {
		e.handlers.OnClose()
	}
}

func (e *Endpoint) reportError(err error) {
	e.logger.Warn("inbound frame rejected", "err", err)
	if e.handlers.OnError != nil {
		e.handlers.OnError(err)
	}
}
