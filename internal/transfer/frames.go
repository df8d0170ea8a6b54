package transfer

import "encoding/json"

// FrameType tags a JSON control frame.
type FrameType string

const (
	FrameText     FrameType = "text"
	FrameFileMeta FrameType = "file-meta"
	FrameFileEnd  FrameType = "file-end"
)

type textFrame struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content"`
}

type fileMetaFrame struct {
	Type FrameType `json:"type"`
	Name string    `json:"name"`
	MIME string    `json:"mime"`
	Size int64     `json:"size"`
}

type fileEndFrame struct {
	Type FrameType `json:"type"`
	Name string    `json:"name"`
}

// controlFrame is the union of every control frame's fields, used on the
// receive side before dispatching on Type.
type controlFrame struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content"`
	Name    string    `json:"name"`
	MIME    string    `json:"mime"`
	Size    int64     `json:"size"`
}

func encodeFrame(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeControl reports ok=false when data is not a JSON object carrying a
// type; such frames are plain chat text.
func decodeControl(data []byte) (controlFrame, bool) {
	var f controlFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		return controlFrame{}, false
	}
	return f, true
}
