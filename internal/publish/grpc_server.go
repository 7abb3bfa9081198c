package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/fallwatch/internal/pipeline"
)

// Events service. Messages are google.protobuf.Struct so no generated code
// is needed on either side:
//
//	service Events {
//	  rpc Stream(google.protobuf.Struct) returns (stream google.protobuf.Struct);
//	}
const (
	eventsServiceName  = "fallwatch.v1.Events"
	eventsStreamMethod = "/" + eventsServiceName + "/Stream"
)

// Event types carried in the "type" field of every streamed message.
const (
	EventFrame = "frame"
	EventAlert = "alert"
)

// EventsServer is the server API for the Events service.
type EventsServer interface {
	Stream(req *structpb.Struct, stream grpc.ServerStream) error
}

var eventsServiceDesc = grpc.ServiceDesc{
	ServiceName: eventsServiceName,
	HandlerType: (*EventsServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       eventsStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "fallwatch/v1/events.proto",
}

func eventsStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EventsServer).Stream(req, stream)
}

// StreamFilter narrows what a client receives.
type StreamFilter struct {
	StreamID   string `json:"stream_id,omitempty"`   // Empty means every stream
	AlertsOnly bool   `json:"alerts_only,omitempty"` // Skip per-frame track updates
}

func (f StreamFilter) toStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"stream_id":   f.StreamID,
		"alerts_only": f.AlertsOnly,
	})
}

func filterFromStruct(s *structpb.Struct) StreamFilter {
	var f StreamFilter
	if s == nil {
		return f
	}
	if v, ok := s.Fields["stream_id"]; ok {
		f.StreamID = v.GetStringValue()
	}
	if v, ok := s.Fields["alerts_only"]; ok {
		f.AlertsOnly = v.GetBoolValue()
	}
	return f
}

// Event is one decoded message from the Events stream.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Alert decodes the payload of an EventAlert.
func (e Event) Alert() (pipeline.Alert, error) {
	var a pipeline.Alert
	if e.Type != EventAlert {
		return a, fmt.Errorf("event type %q is not %q", e.Type, EventAlert)
	}
	err := json.Unmarshal(e.Payload, &a)
	return a, err
}

// Frame decodes the payload of an EventFrame.
func (e Event) Frame() (pipeline.FrameResult, error) {
	var r pipeline.FrameResult
	if e.Type != EventFrame {
		return r, fmt.Errorf("event type %q is not %q", e.Type, EventFrame)
	}
	err := json.Unmarshal(e.Payload, &r)
	return r, err
}

func encodeEvent(typ string, payload interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(map[string]interface{}{"type": typ, "payload": payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", typ, err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to convert %s event: %w", typ, err)
	}
	return s, nil
}

func decodeEvent(s *structpb.Struct) (Event, error) {
	var ev Event
	b, err := protojson.Marshal(s)
	if err != nil {
		return ev, fmt.Errorf("failed to marshal event struct: %w", err)
	}
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}

// GRPCServer streams publisher output to remote clients.
type GRPCServer struct {
	publisher *Publisher
	server    *grpc.Server
	listener  net.Listener

	running atomic.Bool
	wg      sync.WaitGroup
}

// Ensure GRPCServer implements the service interface.
var _ EventsServer = (*GRPCServer)(nil)

// NewGRPCServer creates a server backed by p.
func NewGRPCServer(p *Publisher) *GRPCServer {
	return &GRPCServer{publisher: p}
}

// Register adds the Events service to an existing grpc.Server.
func (s *GRPCServer) Register(gs *grpc.Server) {
	gs.RegisterService(&eventsServiceDesc, s)
}

// Start listens on addr and serves the Events service in the background.
func (s *GRPCServer) Start(addr string) error {
	if s.running.Load() {
		return fmt.Errorf("grpc server already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves the Events service on lis in the background.
func (s *GRPCServer) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("grpc server already running")
	}
	s.listener = lis
	s.server = grpc.NewServer()
	s.Register(s.server)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		diagf("[gRPC] Events service listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			opsf("[gRPC] server error: %v", err)
		}
	}()
	return nil
}

// Stop stops the server and cancels open streams. Streams are long-lived, so
// a graceful stop would wait on every connected client.
func (s *GRPCServer) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.server != nil {
		s.server.Stop()
	}
	s.wg.Wait()
	diagf("[gRPC] Events service stopped")
}

// Stream implements EventsServer.
func (s *GRPCServer) Stream(req *structpb.Struct, stream grpc.ServerStream) error {
	filter := filterFromStruct(req)
	ctx := stream.Context()

	id, ch := s.publisher.Subscribe()
	defer s.publisher.Unsubscribe(id)
	diagf("[gRPC] Stream %s started: stream=%q alerts_only=%t", id, filter.StreamID, filter.AlertsOnly)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-ch:
			if !ok {
				return nil
			}
			if filter.StreamID != "" && res.StreamID != filter.StreamID {
				continue
			}
			if err := sendResult(stream, res, filter.AlertsOnly); err != nil {
				return err
			}
		}
	}
}

func sendResult(stream grpc.ServerStream, res pipeline.FrameResult, alertsOnly bool) error {
	if !alertsOnly {
		msg, err := encodeEvent(EventFrame, res)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	for _, a := range res.Alerts {
		msg, err := encodeEvent(EventAlert, a)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	return nil
}

// StreamEvents subscribes to a remote Events service and calls fn for each
// event until the stream ends, ctx is cancelled or fn returns an error.
func StreamEvents(ctx context.Context, conn grpc.ClientConnInterface, filter StreamFilter, fn func(Event) error) error {
	req, err := filter.toStruct()
	if err != nil {
		return err
	}
	cs, err := conn.NewStream(ctx, &eventsServiceDesc.Streams[0], eventsStreamMethod)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	if err := cs.SendMsg(req); err != nil {
		return fmt.Errorf("failed to send stream request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send: %w", err)
	}

	for {
		msg := new(structpb.Struct)
		if err := cs.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		ev, err := decodeEvent(msg)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
