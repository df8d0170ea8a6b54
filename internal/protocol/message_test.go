package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestEncode_EnvelopeShape(t *testing.T) {
	data, err := Encode(&JoinRoom{RoomCode: "ABC123"}, 7)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["type"] != "join-room" {
		t.Fatalf("type=%v, want join-room", raw["type"])
	}
	if raw["ack"] != float64(7) {
		t.Fatalf("ack=%v, want 7", raw["ack"])
	}
	payload, ok := raw["payload"].(map[string]any)
	if !ok || payload["roomCode"] != "ABC123" {
		t.Fatalf("payload=%v, want roomCode=ABC123", raw["payload"])
	}
}

func TestParse_Call(t *testing.T) {
	in := `{"type":"call","payload":{"to":"peer-b","offer":{"type":"offer","sdp":"v=0\r\n"}}}`
	msg, p, err := Parse([]byte(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Type != TypeCall {
		t.Fatalf("type=%q, want %q", msg.Type, TypeCall)
	}
	call, ok := p.(*Call)
	if !ok {
		t.Fatalf("payload=%T, want *Call", p)
	}
	if call.To != "peer-b" || call.Offer.Type != webrtc.SDPTypeOffer || call.Offer.SDP != "v=0\r\n" {
		t.Fatalf("call=%+v", call)
	}
}

func TestParse_NetworkCandidate(t *testing.T) {
	in := `{"type":"network-candidate","payload":{"to":"peer-b","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}}`
	_, p, err := Parse([]byte(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	nc := p.(*NetworkCandidate)
	if nc.Candidate == nil || nc.Candidate.SDPMid == nil || *nc.Candidate.SDPMid != "0" {
		t.Fatalf("candidate=%+v", nc.Candidate)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{name: "not json", in: `{{`, want: ErrMalformed},
		{name: "unknown type", in: `{"type":"teleport","payload":{}}`, want: ErrUnknownType},
		{name: "join without code", in: `{"type":"join-room","payload":{}}`, want: ErrMalformed},
		{name: "call with answer sdp", in: `{"type":"call","payload":{"to":"b","offer":{"type":"answer","sdp":"x"}}}`, want: ErrMalformed},
		{name: "null candidate", in: `{"type":"network-candidate","payload":{"to":"b","candidate":null}}`, want: ErrMalformed},
		{name: "wrong payload shape", in: `{"type":"join-room","payload":{"roomCode":5}}`, want: ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tt.in))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, want %v", err, tt.want)
			}
		})
	}
}

func TestForwarded_Target(t *testing.T) {
	cand := webrtc.ICECandidateInit{Candidate: "c"}
	payloads := []Forwarded{
		&Call{To: "b"},
		&CallAccepted{To: "b"},
		&RenegotiationOffer{To: "b"},
		&RenegotiationAnswer{To: "b"},
		&NetworkCandidate{To: "b", Candidate: &cand},
	}
	for _, p := range payloads {
		if got := p.Target(); got != "b" {
			t.Fatalf("%s target=%q, want b", p.MessageType(), got)
		}
	}
}

func TestParse_LeaveRoomWithoutPayload(t *testing.T) {
	_, p, err := Parse([]byte(`{"type":"leave-room"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := p.(*LeaveRoom); !ok {
		t.Fatalf("payload=%T, want *LeaveRoom", p)
	}
}

func TestEncode_OmitsZeroAck(t *testing.T) {
	data, err := Encode(&UserJoined{ID: "x"}, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(string(data), `"ack"`) {
		t.Fatalf("unexpected ack field: %s", data)
	}
}
