package livekit

import (
	"context"
	"fmt"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// RoomService wraps the LiveKit server API for room management. It satisfies
// the session's RoomManager interface.
type RoomService struct {
	client *lksdk.RoomServiceClient
}

// NewRoomService creates a room service client. The URL may be the same
// WebSocket URL used for joining rooms; the SDK translates it to HTTP.
func NewRoomService(url, apiKey, apiSecret string) *RoomService {
	return &RoomService{client: lksdk.NewRoomServiceClient(url, apiKey, apiSecret)}
}

// DeleteRoom removes the room server-side, disconnecting every remaining
// participant.
func (s *RoomService) DeleteRoom(ctx context.Context, roomName string) error {
	if _, err := s.client.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName}); err != nil {
		return fmt.Errorf("livekit: delete room %q: %w", roomName, err)
	}
	return nil
}
