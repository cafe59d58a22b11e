package registry

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// relay frames are binary websocket messages holding a protobuf `Struct`
// an empty message is a ping

type FrameType string

const (
	FrameTypeAuth           FrameType = "auth"
	FrameTypeSession        FrameType = "session"
	FrameTypeUpstream       FrameType = "upstream"
	FrameTypeRegistryChange FrameType = "registry_change"
)

type Frame struct {
	Type FrameType

	// auth
	ByJwt string

	// session
	SessionId SessionId
	// session, upstream
	UpstreamConnected bool

	// registry_change
	Change *RegistryChange
}

func EncodeFrame(frame *Frame) ([]byte, error) {
	fields := map[string]any{
		"type": string(frame.Type),
	}
	switch frame.Type {
	case FrameTypeAuth:
		fields["jwt"] = frame.ByJwt
	case FrameTypeSession:
		fields["session_id"] = frame.SessionId.String()
		fields["upstream_connected"] = frame.UpstreamConnected
	case FrameTypeUpstream:
		fields["connected"] = frame.UpstreamConnected
	case FrameTypeRegistryChange:
		if frame.Change == nil {
			return nil, fmt.Errorf("Frame %s missing change.", frame.Type)
		}
		segments := []any{}
		for _, segment := range frame.Change.Path.Segments() {
			segments = append(segments, segment)
		}
		fields["watch_id"] = frame.Change.WatchId.String()
		fields["path"] = segments
		fields["name"] = frame.Change.Name
		fields["is_dir"] = frame.Change.IsDir
		fields["add_or_change"] = frame.Change.AddOrChange
	default:
		return nil, fmt.Errorf("Unknown frame type: %s", frame.Type)
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func DecodeFrame(b []byte) (*Frame, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(b, s); err != nil {
		return nil, err
	}
	fields := s.GetFields()

	frame := &Frame{
		Type: FrameType(fields["type"].GetStringValue()),
	}
	switch frame.Type {
	case FrameTypeAuth:
		frame.ByJwt = fields["jwt"].GetStringValue()
	case FrameTypeSession:
		sessionId, err := ParseId(fields["session_id"].GetStringValue())
		if err != nil {
			return nil, err
		}
		frame.SessionId = sessionId
		frame.UpstreamConnected = fields["upstream_connected"].GetBoolValue()
	case FrameTypeUpstream:
		frame.UpstreamConnected = fields["connected"].GetBoolValue()
	case FrameTypeRegistryChange:
		watchId, err := ParseId(fields["watch_id"].GetStringValue())
		if err != nil {
			return nil, err
		}
		segments := []string{}
		for _, value := range fields["path"].GetListValue().GetValues() {
			segments = append(segments, value.GetStringValue())
		}
		frame.Change = &RegistryChange{
			WatchId:     watchId,
			Path:        NewPath(segments...),
			Name:        fields["name"].GetStringValue(),
			IsDir:       fields["is_dir"].GetBoolValue(),
			AddOrChange: fields["add_or_change"].GetBoolValue(),
		}
	default:
		return nil, fmt.Errorf("Unknown frame type: %s", frame.Type)
	}
	return frame, nil
}
