package livekit

import (
	"testing"
	"time"

	"github.com/livekit/protocol/auth"
)

const (
	testAPIKey    = "APIabcdef1234567"
	testAPISecret = "sufficiently-long-test-secret-value-0001"
)

func TestMintToken_GrantsRoomJoinAndDispatch(t *testing.T) {
	t.Parallel()

	jwt, err := MintToken(testAPIKey, testAPISecret, TokenOptions{
		Identity:  "identity",
		Name:      "name",
		Room:      "my-room-01",
		AgentName: "test-agent",
		Metadata:  "test-metadata",
	})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	v, err := auth.ParseAPIToken(jwt)
	if err != nil {
		t.Fatalf("ParseAPIToken: %v", err)
	}
	if v.APIKey() != testAPIKey {
		t.Errorf("api key: got %q", v.APIKey())
	}
	claims, err := v.Verify(testAPISecret)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if claims.Identity != "identity" {
		t.Errorf("identity: got %q", claims.Identity)
	}
	if claims.Name != "name" {
		t.Errorf("name: got %q", claims.Name)
	}
	if claims.Video == nil || !claims.Video.RoomJoin || claims.Video.Room != "my-room-01" {
		t.Errorf("video grant: %+v", claims.Video)
	}
	if claims.RoomConfig == nil || len(claims.RoomConfig.Agents) != 1 {
		t.Fatalf("room config: %+v", claims.RoomConfig)
	}
	dispatch := claims.RoomConfig.Agents[0]
	if dispatch.AgentName != "test-agent" {
		t.Errorf("agent name: got %q", dispatch.AgentName)
	}
	if dispatch.Metadata != "test-metadata" {
		t.Errorf("metadata: got %q", dispatch.Metadata)
	}
}

func TestMintToken_NoAgentDispatchWithoutAgentName(t *testing.T) {
	t.Parallel()

	jwt, err := MintToken(testAPIKey, testAPISecret, TokenOptions{
		Identity: "caller",
		Room:     "room",
		Validity: time.Hour,
	})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	v, err := auth.ParseAPIToken(jwt)
	if err != nil {
		t.Fatalf("ParseAPIToken: %v", err)
	}
	claims, err := v.Verify(testAPISecret)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.RoomConfig != nil && len(claims.RoomConfig.Agents) != 0 {
		t.Errorf("unexpected agent dispatch: %+v", claims.RoomConfig)
	}
}

func TestMintToken_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts TokenOptions
	}{
		{"missing identity", TokenOptions{Room: "room"}},
		{"missing room", TokenOptions{Identity: "id"}},
	}
	for _, tc := range cases {
		if _, err := MintToken(testAPIKey, testAPISecret, tc.opts); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
	if _, err := MintToken("", "", TokenOptions{Identity: "id", Room: "room"}); err == nil {
		t.Error("missing credentials: expected error")
	}
}
