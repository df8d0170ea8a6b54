package transfer

import (
	"bytes"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// record accumulates one inbound file.
type record struct {
	meta     FileMeta
	chunks   [][]byte
	received int64
	meter    *RateMeter
}

func (r *record) progress() Progress {
	return Progress{Name: r.meta.Name, Done: r.received, Total: r.meta.Size, Speed: r.meter.Speed()}
}

func (r *record) assemble() File {
	data := make([]byte, 0, r.received)
	for _, c := range r.chunks {
		data = append(data, c...)
	}
	return File{Name: r.meta.Name, MIME: r.meta.MIME, Data: data}
}

func (e *Endpoint) handleMessage(msg webrtc.DataChannelMessage) {
	if e.isClosed() {
		return
	}
	if !msg.IsString {
		e.handleChunk(msg.Data)
		return
	}

	f, ok := decodeControl(msg.Data)
	if !ok {
		// Minimal peers send bare strings.
		if e.handlers.OnText != nil {
			e.handlers.OnText(string(msg.Data))
		}
		return
	}

	switch f.Type {
	case FrameText:
		if e.handlers.OnText != nil {
			e.handlers.OnText(f.Content)
		}
	case FrameFileMeta:
		e.handleFileMeta(f)
	case FrameFileEnd:
		e.handleFileEnd(f.Name)
	default:
		e.reportError(NewError("receive", fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)))
	}
}

func (e *Endpoint) handleFileMeta(f controlFrame) {
	meta := FileMeta{Name: f.Name, MIME: f.MIME, Size: f.Size}
	if meta.MIME == "" {
		meta.MIME = DefaultMIMEType
	}
	if meta.Name == "" || meta.Size < 0 {
		e.reportError(NewFileError("receive", meta.Name, ErrInvalidMetadata))
		return
	}
	if e.maxFileSize > 0 && meta.Size > e.maxFileSize {
		e.reportError(NewFileError("receive", meta.Name, ErrFileTooLarge))
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	prev := e.recv
	e.recv = &record{meta: meta, meter: NewRateMeter()}
	e.mu.Unlock()

	if prev != nil {
		e.logger.Warn("abandoning unfinished transfer", "file", prev.meta.Name, "received", prev.received, "size", prev.meta.Size)
	}
	e.logger.Debug("receiving file", "file", meta.Name, "size", meta.Size, "mime", meta.MIME)
	if e.handlers.OnFileStart != nil {
		e.handlers.OnFileStart(meta)
	}
}

func (e *Endpoint) handleChunk(data []byte) {
	e.mu.Lock()
	rec := e.recv
	if rec == nil {
		e.mu.Unlock()
		e.reportError(NewError("receive", ErrNoOpenTransfer))
		return
	}
	if rec.received+int64(len(data)) > rec.meta.Size {
		e.recv = nil
		e.mu.Unlock()
		e.reportError(NewFileError("receive", rec.meta.Name, ErrSizeExceeded))
		return
	}
	rec.chunks = append(rec.chunks, bytes.Clone(data))
	rec.received += int64(len(data))
	rec.meter.Record(int64(len(data)))
	p := rec.progress()
	e.mu.Unlock()

	if e.handlers.OnProgress != nil {
		e.handlers.OnProgress(p)
	}
}

func (e *Endpoint) handleFileEnd(name string) {
	e.mu.Lock()
	rec := e.recv
	if rec == nil || rec.meta.Name != name {
		e.mu.Unlock()
		e.reportError(NewFileError("receive", name, ErrNoOpenTransfer))
		return
	}
	e.recv = nil
	e.mu.Unlock()

	if rec.received != rec.meta.Size {
		e.logger.Warn("file ended short of declared size", "file", name, "received", rec.received, "size", rec.meta.Size)
	}
	if rec.meta.Size == 0 && e.handlers.OnProgress != nil {
		e.handlers.OnProgress(rec.progress())
	}
	if e.handlers.OnFile != nil {
		e.handlers.OnFile(rec.assemble())
	}
}
