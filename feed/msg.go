package feed

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadsphere/quadtree"
	"github.com/segmentio/encoding/json"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// A received message could not be decoded.
	ErrTypeMsgInvalid = "feed_msg_invalid"
)

const (
	MsgTypeFrame           = "frame"
	MsgTypePing            = "ping"
	MsgTypePong            = "pong"
	MsgTypeSnapshotRequest = "snapshot_request"
	MsgTypeSnapshot        = "snapshot"

	typeField      = "type"
	requestIDField = "request_id"
)

// Msg is a feed message. Its data is a protobuf struct whose type field
// holds the message type.
type Msg struct {
	Type string
	Data *structpb.Struct
}

// NewMsg creates a message of the given type with the given fields. Field
// values must be convertible with structpb.NewValue.
func NewMsg(msgType string, fields map[string]any) (Msg, error) {
	data, err := structpb.NewStruct(fields)
	if err != nil {
		return Msg{}, errors.New("creating message failed").
			WithTag("msg_type", msgType).
			Wrap(err)
	}

	data.Fields[typeField] = structpb.NewStringValue(msgType)
	return Msg{Type: msgType, Data: data}, nil
}

func (m Msg) TypeString() string {
	if m.Type == "" {
		return "unknown"
	}
	return m.Type
}

// RequestID returns the request id field, if any.
func (m Msg) RequestID() string {
	return m.field(requestIDField).GetStringValue()
}

func (m Msg) field(name string) *structpb.Value {
	if m.Data == nil {
		return nil
	}
	return m.Data.Fields[name]
}

// Encode returns the protobuf wire encoding of the message.
func (m Msg) Encode() ([]byte, error) {
	return proto.Marshal(m.Data)
}

// DecodeMsg decodes a message encoded with Encode.
func DecodeMsg(b []byte) (Msg, error) {
	var data structpb.Struct
	if err := proto.Unmarshal(b, &data); err != nil {
		return Msg{}, errors.New("decoding message failed").
			WithType(ErrTypeMsgInvalid).
			Wrap(err)
	}

	msgType := data.Fields[typeField].GetStringValue()
	if msgType == "" {
		return Msg{}, errors.New("message has no type").
			WithType(ErrTypeMsgInvalid)
	}
	return Msg{Type: msgType, Data: &data}, nil
}

// FrameMsg summarizes a frame.
func FrameMsg(stats quadtree.FrameStats) (Msg, error) {
	return NewMsg(MsgTypeFrame, map[string]any{
		"frame":            stats.Frame,
		"visited":          stats.Visited,
		"rendered":         stats.Rendered,
		"created":          stats.Created,
		"pruned":           stats.Pruned,
		"requests":         stats.Requests,
		"completions":      stats.Completions,
		"stale":            stats.Stale,
		"duration":         stats.Duration.Seconds(),
		"terrain_complete": stats.TerrainComplete,
		"render_complete":  stats.RenderComplete,
	})
}

// SnapshotMsg lists the tiles rendered during a frame.
func SnapshotMsg(requestID string, tiles []quadtree.VisibleTile, stats quadtree.FrameStats) (Msg, error) {
	if tiles == nil {
		tiles = []quadtree.VisibleTile{}
	}

	b, err := json.Marshal(struct {
		Type      string                 `json:"type"`
		RequestID string                 `json:"request_id,omitempty"`
		Stats     quadtree.FrameStats    `json:"stats"`
		Tiles     []quadtree.VisibleTile `json:"tiles"`
	}{
		Type:      MsgTypeSnapshot,
		RequestID: requestID,
		Stats:     stats,
		Tiles:     tiles,
	})
	if err != nil {
		return Msg{}, errors.New("encoding snapshot failed").Wrap(err)
	}

	var data structpb.Struct
	if err := data.UnmarshalJSON(b); err != nil {
		return Msg{}, errors.New("converting snapshot failed").Wrap(err)
	}
	return Msg{Type: MsgTypeSnapshot, Data: &data}, nil
}
