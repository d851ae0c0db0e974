package livekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
)

// defaultTokenValidity is how long minted tokens stay valid when
// TokenOptions.Validity is zero.
const defaultTokenValidity = 6 * time.Hour

// TokenOptions describes the participant and room a token grants access to.
type TokenOptions struct {
	// Identity is the participant identity encoded in the token. Required.
	Identity string

	// Name is the participant display name.
	Name string

	// Room is the room the token grants join access to. Required.
	Room string

	// AgentName, when set, requests dispatch of the named agent into the room
	// as soon as the participant joins.
	AgentName string

	// Metadata is passed to the dispatched agent's job.
	Metadata string

	// Validity defaults to 6 hours.
	Validity time.Duration
}

// MintToken creates a signed room-join JWT. When an agent name is given, the
// token embeds a room configuration that dispatches that agent on join, so a
// single token both admits the caller and summons the assistant.
func MintToken(apiKey, apiSecret string, opts TokenOptions) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", errors.New("livekit: api key and secret are required")
	}
	if opts.Identity == "" {
		return "", errors.New("livekit: token identity is required")
	}
	if opts.Room == "" {
		return "", errors.New("livekit: token room is required")
	}
	if opts.Validity == 0 {
		opts.Validity = defaultTokenValidity
	}

	at := auth.NewAccessToken(apiKey, apiSecret).
		SetIdentity(opts.Identity).
		SetName(opts.Name).
		SetValidFor(opts.Validity).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin: true,
			Room:     opts.Room,
		})

	if opts.AgentName != "" {
		at.SetRoomConfig(&livekit.RoomConfiguration{
			Agents: []*livekit.RoomAgentDispatch{{
				AgentName: opts.AgentName,
				Metadata:  opts.Metadata,
			}},
		})
	}

	jwt, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("livekit: sign token: %w", err)
	}
	return jwt, nil
}
