package agent

import (
	"context"

	"github.com/MrWong99/voxhire/pkg/types"
)

// Transport abstracts the audio path between the pipeline and the room. The
// LiveKit room implements it in production; tests use in-memory fakes.
type Transport interface {
	// AudioInput returns the stream of decoded caller audio frames. The
	// channel is closed when the remote participant's track ends.
	AudioInput() <-chan types.AudioFrame

	// Play streams raw PCM audio chunks to the room's published track,
	// blocking until the audio channel is exhausted or ctx is cancelled.
	// Cancelling ctx stops playback immediately; Play must then drain the
	// remaining chunks so the producer does not leak. Implementations must
	// serialize concurrent Play calls so overlapping utterances never
	// interleave on the track.
	Play(ctx context.Context, audio <-chan []byte) error
}
