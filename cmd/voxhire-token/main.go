// Command voxhire-token mints LiveKit access tokens that admit a caller to a
// room and dispatch the interview agent into it. The signed JWT is printed to
// standard output.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/MrWong99/voxhire/internal/livekit"
)

func main() {
	os.Exit(run())
}

func run() int {
	apiKey := flag.String("api-key", os.Getenv("LIVEKIT_API_KEY"), "LiveKit API key (defaults to $LIVEKIT_API_KEY)")
	apiSecret := flag.String("api-secret", os.Getenv("LIVEKIT_API_SECRET"), "LiveKit API secret (defaults to $LIVEKIT_API_SECRET)")
	identity := flag.String("identity", "identity", "participant identity")
	name := flag.String("name", "name", "participant display name")
	room := flag.String("room", "my-room-01", "room to grant access to")
	agentName := flag.String("agent", "test-agent", "agent to dispatch on join (empty disables dispatch)")
	metadata := flag.String("metadata", "test-metadata", "opaque metadata passed to the dispatched agent")
	validity := flag.Duration("validity", 6*time.Hour, "token validity period")
	flag.Parse()

	token, err := livekit.MintToken(*apiKey, *apiSecret, livekit.TokenOptions{
		Identity:  *identity,
		Name:      *name,
		Room:      *room,
		AgentName: *agentName,
		Metadata:  *metadata,
		Validity:  *validity,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxhire-token: %v\n", err)
		return 1
	}

	fmt.Println(token)
	return 0
}
