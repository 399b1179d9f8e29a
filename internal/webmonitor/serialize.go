package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/session"
)

// serializeSnapshot encodes a snapshot once for every SSE client. The
// protobuf form is a google.protobuf.Struct mirroring the JSON, with the
// timestamp replaced by its {seconds, nanos} pair.
func serializeSnapshot(snap session.Snapshot) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("reparse snapshot: %w", err)
	}
	ts := timestamppb.New(snap.Timestamp)
	fields["timestamp"] = map[string]any{
		"seconds": float64(ts.GetSeconds()),
		"nanos":   float64(ts.GetNanos()),
	}
	pbStruct, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(pbStruct)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}

	// SSE is line based; binary payloads travel as base64.
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(pbData)))
	base64.StdEncoding.Encode(encoded, pbData)

	return &SerializedEvent{JSONData: jsonData, ProtobufData: encoded}, nil
}
