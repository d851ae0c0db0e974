// Package livekit contains the LiveKit-facing side of voxhire: room
// connection and audio transport, server-side room management, and access
// token minting.
//
// The [Room] type adapts a LiveKit room to the pipeline agent's transport
// interface. Inbound audio is received as Opus RTP from the caller's
// microphone track, decoded to 48 kHz mono PCM, and delivered as frames.
// Outbound audio arrives from TTS as 16 kHz mono PCM chunks, is resampled to
// 48 kHz stereo, Opus-encoded in 20 ms frames, and written to the agent's
// published track with real-time pacing.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/MrWong99/voxhire/pkg/audio"
	"github.com/MrWong99/voxhire/pkg/types"
)

// defaultSourceRate is the PCM sample rate produced by the TTS providers.
const defaultSourceRate = 16000

// Options configures a room connection.
type Options struct {
	// URL is the LiveKit server WebSocket URL (wss://...).
	URL string

	// APIKey and APISecret authenticate the agent with the LiveKit server.
	APIKey    string
	APISecret string

	// RoomName is the room to join.
	RoomName string

	// Identity and Name are the agent's participant identity and display
	// name in the room.
	Identity string
	Name     string

	// SourceSampleRate is the sample rate of PCM chunks passed to Play.
	// Defaults to 16000 (ElevenLabs pcm_16000 output).
	SourceSampleRate int

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Room is a connected LiveKit room that implements the agent transport. The
// agent's own audio track is published on connect; the caller's microphone
// track is subscribed as soon as it is published.
type Room struct {
	opts Options
	log  *slog.Logger

	room  *lksdk.Room
	track *lksdk.LocalSampleTrack
	enc   *opusEncoder

	frames chan types.AudioFrame
	joined chan *lksdk.RemoteParticipant
	left   chan string

	playMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// Connect joins the room, publishes the agent's audio track, and wires the
// subscription callbacks. Only microphone audio from other participants is
// subscribed; the agent's own track is ignored to avoid feedback loops.
func Connect(ctx context.Context, opts Options) (*Room, error) {
	if opts.URL == "" || opts.APIKey == "" || opts.APISecret == "" {
		return nil, errors.New("livekit: URL, APIKey, and APISecret are required")
	}
	if opts.RoomName == "" {
		return nil, errors.New("livekit: RoomName is required")
	}
	if opts.SourceSampleRate == 0 {
		opts.SourceSampleRate = defaultSourceRate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Room{
		opts:   opts,
		log:    opts.Logger.With("component", "livekit", "room", opts.RoomName),
		frames: make(chan types.AudioFrame, 64),
		joined: make(chan *lksdk.RemoteParticipant, 4),
		left:   make(chan string, 4),
		done:   make(chan struct{}),
	}

	cb := &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.log.Info("participant connected", "identity", rp.Identity())
			select {
			case r.joined <- rp:
			default:
			}
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.log.Info("participant disconnected", "identity", rp.Identity())
			select {
			case r.left <- rp.Identity():
			default:
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if pub.Kind() != lksdk.TrackKindAudio {
					return
				}
				if rp.Identity() == opts.Identity {
					return
				}
				// Only the caller's microphone feeds the pipeline; screen
				// share audio and the like stay unsubscribed.
				if pub.Source() != livekit.TrackSource_MICROPHONE {
					return
				}
				if err := pub.SetSubscribed(true); err != nil {
					r.log.Warn("audio track subscribe failed", "error", err)
				}
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				r.log.Debug("audio track subscribed", "identity", rp.Identity(), "sid", pub.SID())
				go r.readTrack(track, rp.Identity())
			},
		},
	}

	room, err := lksdk.ConnectToRoom(opts.URL, lksdk.ConnectInfo{
		APIKey:              opts.APIKey,
		APISecret:           opts.APISecret,
		RoomName:            opts.RoomName,
		ParticipantIdentity: opts.Identity,
		ParticipantName:     opts.Name,
	}, cb, lksdk.WithAutoSubscribe(false))
	if err != nil {
		return nil, fmt.Errorf("livekit: connect to room: %w", err)
	}
	r.room = room

	if err := r.publishTrack(); err != nil {
		room.Disconnect()
		return nil, err
	}

	r.log.Info("connected", "identity", opts.Identity)
	return r, nil
}

// publishTrack creates and publishes the agent's Opus audio track.
func (r *Room) publishTrack() error {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  opusChannels,
	})
	if err != nil {
		return fmt.Errorf("livekit: create sample track: %w", err)
	}
	if _, err := r.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "agent-voice",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return fmt.Errorf("livekit: publish track: %w", err)
	}
	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}
	r.track = track
	r.enc = enc
	return nil
}

// readTrack pulls RTP packets from a subscribed track, decodes the Opus
// payload, and forwards PCM frames to the transport channel. Runs until the
// track ends or the room closes.
func (r *Room) readTrack(track *webrtc.TrackRemote, identity string) {
	dec, err := newOpusDecoder()
	if err != nil {
		r.log.Error("opus decoder unavailable", "error", err)
		return
	}

	var ts time.Duration
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.log.Debug("audio track ended", "identity", identity, "error", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		pcm, err := dec.decode(pkt.Payload)
		if err != nil {
			continue
		}

		frame := types.AudioFrame{
			Data:       pcm,
			SampleRate: opusSampleRate,
			Channels:   1,
			Timestamp:  ts,
		}
		ts += opusFrameSizeMs * time.Millisecond

		select {
		case r.frames <- frame:
		case <-r.done:
			return
		default:
			// The pipeline is behind; dropping is better than stalling RTP.
		}
	}
}

// AudioInput implements the agent transport.
func (r *Room) AudioInput() <-chan types.AudioFrame { return r.frames }

// Play implements the agent transport. It converts source-rate mono PCM to
// 48 kHz stereo, encodes 20 ms Opus frames, and writes them to the published
// track paced at real time. Concurrent Play calls are serialized.
func (r *Room) Play(ctx context.Context, audioCh <-chan []byte) error {
	r.playMu.Lock()
	defer r.playMu.Unlock()

	ticker := time.NewTicker(opusFrameSizeMs * time.Millisecond)
	defer ticker.Stop()

	frameLen := opusFrameSize * opusChannels
	var pending []int16

	writeFrame := func(frame []int16) error {
		pkt, err := r.enc.encode(frame)
		if err != nil {
			return err
		}
		return r.track.WriteSample(media.Sample{
			Data:     pkt,
			Duration: opusFrameSizeMs * time.Millisecond,
		}, nil)
	}

	for {
		select {
		case <-ctx.Done():
			go audio.Drain(audioCh)
			return ctx.Err()

		case chunk, ok := <-audioCh:
			if !ok {
				// Pad the tail to a full frame so the last audio is heard.
				if len(pending) > 0 {
					tail := make([]int16, frameLen)
					copy(tail, pending)
					if err := writeFrame(tail); err != nil {
						return err
					}
				}
				return nil
			}

			pending = append(pending, r.toTrackFormat(chunk)...)
			for len(pending) >= frameLen {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					go audio.Drain(audioCh)
					return ctx.Err()
				}
				if err := writeFrame(pending[:frameLen]); err != nil {
					return err
				}
				pending = pending[frameLen:]
			}
		}
	}
}

// toTrackFormat converts a source-rate mono PCM chunk to interleaved 48 kHz
// stereo samples.
func (r *Room) toTrackFormat(chunk []byte) []int16 {
	up := audio.ResampleMono16(chunk, r.opts.SourceSampleRate, opusSampleRate)
	return audio.BytesToInt16s(audio.MonoToStereo(up))
}

// WaitForParticipant blocks until a remote participant is present in the room
// and returns its identity.
func (r *Room) WaitForParticipant(ctx context.Context) (string, error) {
	if rps := r.room.GetRemoteParticipants(); len(rps) > 0 {
		return rps[0].Identity(), nil
	}
	select {
	case rp := <-r.joined:
		return rp.Identity(), nil
	case <-r.done:
		return "", errors.New("livekit: room closed")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ParticipantLeft returns a channel that receives the identity of each
// participant that disconnects.
func (r *Room) ParticipantLeft() <-chan string { return r.left }

// Name returns the room name.
func (r *Room) Name() string { return r.opts.RoomName }

// Close disconnects from the room. Safe to call multiple times.
func (r *Room) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.room.Disconnect()
	})
	return nil
}
