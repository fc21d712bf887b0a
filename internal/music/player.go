package music

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paavoai/paavo/internal/homeassistant"
)

const domain = "media_player"

// Controller is the device surface the player needs.
// *homeassistant.Client satisfies it.
type Controller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
}

// DeviceError reports a failed device operation.
type DeviceError struct {
	Operation string // e.g. media_player.media_pause or state
	EntityID  string
	Err       error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Operation, e.EntityID, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Player drives one media player entity.
type Player struct {
	ctrl            Controller
	entityID        string
	defaultPlaylist string
	logger          *slog.Logger
}

// NewPlayer returns a player for entityID. defaultPlaylist is what the
// play verb starts.
func NewPlayer(ctrl Controller, entityID, defaultPlaylist string, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		ctrl:            ctrl,
		entityID:        entityID,
		defaultPlaylist: defaultPlaylist,
		logger:          logger.With("component", "music", "entity_id", entityID),
	}
}

// EntityID returns the controlled entity.
func (p *Player) EntityID() string { return p.entityID }

// simpleServices maps argument-free verbs to their service and success
// text. The %s is the entity id.
var simpleServices = map[Verb]struct {
	service string
	reply   string
}{
	VerbStop:   {"media_stop", "Playback stopped on %s."},
	VerbPause:  {"media_pause", "Playback paused on %s."},
	VerbResume: {"media_play", "Playback resumed on %s."},
	VerbNext:   {"media_next_track", "Skipped to next track on %s."},
	VerbPrev:   {"media_previous_track", "Skipped to previous track on %s."},
}

// Execute performs a and returns a human-readable outcome. VerbMessage
// carries no device operation and is rejected.
func (p *Player) Execute(ctx context.Context, a Action) (string, error) {
	switch a.Verb {
	case VerbPlay:
		err := p.call(ctx, "play_media", map[string]any{
			"media_content_id":   p.defaultPlaylist,
			"media_content_type": "playlist",
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Playing default playlist on %s.", p.entityID), nil

	case VerbLoad:
		if err := p.call(ctx, "turn_on", nil); err != nil {
			return "", err
		}
		err := p.call(ctx, "play_media", map[string]any{
			"media_content_id":   a.Arg,
			"media_content_type": "playlist",
			"enqueue":            "replace",
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Playing playlist '%s' on %s.", a.Arg, p.entityID), nil

	case VerbStop, VerbPause, VerbResume, VerbNext, VerbPrev:
		svc := simpleServices[a.Verb]
		if err := p.call(ctx, svc.service, nil); err != nil {
			return "", err
		}
		return fmt.Sprintf(svc.reply, p.entityID), nil

	case VerbInfo:
		info, err := p.NowPlaying(ctx)
		if err != nil {
			return "", err
		}
		return info.Describe(p.entityID), nil

	case VerbMessage:
		return "", &DeviceError{Operation: "dispatch", EntityID: p.entityID, Err: fmt.Errorf("message action has no device operation")}
	}
	return "", &DeviceError{Operation: "dispatch", EntityID: p.entityID, Err: fmt.Errorf("unknown verb %v", a.Verb)}
}

func (p *Player) call(ctx context.Context, service string, extra map[string]any) error {
	data := map[string]any{"entity_id": p.entityID}
	for k, v := range extra {
		data[k] = v
	}
	if err := p.ctrl.CallService(ctx, domain, service, data); err != nil {
		p.logger.Warn("service call failed", "service", service, "error", err)
		return &DeviceError{Operation: domain + "." + service, EntityID: p.entityID, Err: err}
	}
	p.logger.Debug("service call complete", "service", service)
	return nil
}
