// Package grpc implements the campusnav.v1.NavigationService gRPC server:
// session lifecycle and listing, permission and destination commands,
// manual refresh, room search and a server-streamed feed of navigation
// snapshots.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/stuartshay/campus-nav/internal/directory"
	"github.com/stuartshay/campus-nav/internal/navigation"
	"github.com/stuartshay/campus-nav/internal/session"
)

const (
	watchBuffer = 8

	defaultNearbyRadius = 50.0
	defaultListLimit    = 50
)

// Server implements NavigationServiceServer
type Server struct {
	sessions  *session.Registry
	directory *directory.Directory
}

// NewServer creates a new gRPC server instance
func NewServer(sessions *session.Registry, dir *directory.Directory) *Server {
	return &Server{
		sessions:  sessions,
		directory: dir,
	}
}

// StartSession creates a navigation session and returns its ID and first snapshot
func (s *Server) StartSession(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.sessions.Start()
	if err != nil {
		log.Error().Err(err).Msg("Failed to start session")
		return nil, toStatus(err)
	}

	return response(map[string]any{
		"session_id": sess.ID,
		"state":      sess.Engine.Snapshot(),
	})
}

// EndSession closes a session
func (s *Server) EndSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.End(id); err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"session_id": id})
}

// SetPermission grants or revokes location access for a session
func (s *Server) SetPermission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.lookup(req)
	if err != nil {
		return nil, err
	}

	granted, ok := boolField(req, "granted")
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "granted is required")
	}

	sess.Engine.SetPermission(granted)
	return stateResponse(sess.Engine.Snapshot())
}

// SetDestination sets the navigation target either from explicit
// coordinates or from a free-text room query such as "SH 210".
func (s *Server) SetDestination(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.lookup(req)
	if err != nil {
		return nil, err
	}

	var dest navigation.Destination
	if query, ok := stringField(req, "query"); ok {
		if s.directory == nil {
			return nil, status.Error(codes.Unimplemented, "room directory not configured")
		}
		room, err := s.directory.Resolve(ctx, query)
		if err != nil {
			log.Info().Str("query", query).Err(err).Msg("Destination lookup failed")
			return nil, toStatus(err)
		}
		dest = navigation.Destination{
			Lat:      room.Lat,
			Lng:      room.Lng,
			Altitude: room.AltitudeMeters,
			Floor:    room.Floor,
			Label:    room.Label(),
		}
	} else {
		lat, okLat := numberField(req, "lat")
		lng, okLng := numberField(req, "lng")
		if !okLat || !okLng {
			return nil, status.Error(codes.InvalidArgument, "query or lat/lng is required")
		}
		dest = navigation.Destination{Lat: lat, Lng: lng}
		if alt, ok := numberField(req, "altitude"); ok {
			dest.Altitude = &alt
		}
		if floor, ok := numberField(req, "floor"); ok {
			f := int(floor)
			dest.Floor = &f
		}
		dest.Label, _ = stringField(req, "label")
	}

	if err := sess.Engine.SetDestination(dest); err != nil {
		return nil, toStatus(err)
	}
	return stateResponse(sess.Engine.Snapshot())
}

// ForceRefresh requests a one-shot fix for a session
func (s *Server) ForceRefresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	if err := sess.Engine.ForceRefresh(ctx); err != nil {
		return nil, toStatus(err)
	}
	return stateResponse(sess.Engine.Snapshot())
}

// GetState returns the current snapshot of a session
func (s *Server) GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	return stateResponse(sess.Engine.Snapshot())
}

// SearchRooms returns "BUILDING ROOM" labels matching the query
func (s *Server) SearchRooms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.directory == nil {
		return nil, status.Error(codes.Unimplemented, "room directory not configured")
	}
	query, _ := stringField(req, "query")

	results, err := s.directory.Search(ctx, query)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("Room search failed")
		return nil, status.Error(codes.Internal, err.Error())
	}

	return response(map[string]any{"results": results})
}

// NearbyRooms lists rooms within radius_meters of lat/lng, closest first
func (s *Server) NearbyRooms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.directory == nil {
		return nil, status.Error(codes.Unimplemented, "room directory not configured")
	}
	lat, okLat := numberField(req, "lat")
	lng, okLng := numberField(req, "lng")
	if !okLat || !okLng {
		return nil, status.Error(codes.InvalidArgument, "lat and lng are required")
	}
	radius, ok := numberField(req, "radius_meters")
	if !ok {
		radius = defaultNearbyRadius
	}

	rooms, err := s.directory.Nearby(lat, lng, radius)
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"rooms": rooms})
}

// ListSessions pages through live sessions, newest first, and reports
// counts by progress
func (s *Server) ListSessions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := defaultListLimit
	if n, ok := numberField(req, "limit"); ok {
		if n < 0 {
			return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
		}
		limit = int(n)
	}
	offset := 0
	if n, ok := numberField(req, "offset"); ok {
		if n < 0 {
			return nil, status.Error(codes.InvalidArgument, "offset must not be negative")
		}
		offset = int(n)
	}

	return response(map[string]any{
		"sessions": s.sessions.List(limit, offset),
		"stats":    s.sessions.Stats(),
	})
}

// WatchState streams every published snapshot of a session, starting with
// the current one, until the client leaves or the session ends.
func (s *Server) WatchState(req *structpb.Struct, stream grpc.ServerStream) error {
	sess, err := s.lookup(req)
	if err != nil {
		return err
	}

	states, unsubscribe := sess.Engine.Subscribe(watchBuffer)
	defer unsubscribe()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case state, ok := <-states:
			if !ok {
				return nil
			}
			msg, err := stateResponse(state)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) lookup(req *structpb.Struct) (*session.Session, error) {
	id, err := sessionID(req)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return sess, nil
}

func sessionID(req *structpb.Struct) (string, error) {
	id, ok := stringField(req, "session_id")
	if !ok || id == "" {
		return "", status.Error(codes.InvalidArgument, "session_id is required")
	}
	return id, nil
}

// toStatus maps domain errors onto gRPC status codes
func toStatus(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, directory.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, navigation.ErrInvalidCoordinate), errors.Is(err, directory.ErrInvalidRadius):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, navigation.ErrClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, session.ErrLimitReached):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, session.ErrShutdown):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, directory.ErrNearbyUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func stateResponse(state navigation.State) (*structpb.Struct, error) {
	return response(map[string]any{"state": state})
}

// response encodes v through its JSON form so State field names match the
// HTTP surface.
func response(v map[string]any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("failed to encode response: %v", err))
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("failed to encode response: %v", err))
	}
	return out, nil
}

func stringField(req *structpb.Struct, key string) (string, bool) {
	v, ok := req.GetFields()[key]
	if !ok {
		return "", false
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false
	}
	return s.StringValue, true
}

func numberField(req *structpb.Struct, key string) (float64, bool) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}

func boolField(req *structpb.Struct, key string) (bool, bool) {
	v, ok := req.GetFields()[key]
	if !ok {
		return false, false
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false
	}
	return b.BoolValue, true
}
