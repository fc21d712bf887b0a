package music

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/paavoai/paavo/internal/homeassistant"
)

type serviceCall struct {
	Domain, Service string
	Data            map[string]any
}

type fakeController struct {
	calls    []serviceCall
	failOn   string
	state    *homeassistant.State
	stateErr error
	reads    int
}

func (f *fakeController) CallService(_ context.Context, domain, service string, data map[string]any) error {
	f.calls = append(f.calls, serviceCall{domain, service, data})
	if service == f.failOn {
		return errors.New("entity unavailable")
	}
	return nil
}

func (f *fakeController) GetState(_ context.Context, entityID string) (*homeassistant.State, error) {
	f.reads++
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return f.state, nil
}

const target = "media_player.shieldi"

func newTestPlayer(f *fakeController) *Player {
	return NewPlayer(f, target, "default-mix", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExecute_ActionTable(t *testing.T) {
	tests := []struct {
		action    Action
		wantCalls []serviceCall
		wantReply string
	}{
		{
			Simple(VerbPlay),
			[]serviceCall{{"media_player", "play_media", map[string]any{
				"entity_id": target, "media_content_id": "default-mix", "media_content_type": "playlist",
			}}},
			"Playing default playlist on media_player.shieldi.",
		},
		{
			Load("chill vibes"),
			[]serviceCall{
				{"media_player", "turn_on", map[string]any{"entity_id": target}},
				{"media_player", "play_media", map[string]any{
					"entity_id": target, "media_content_id": "chill vibes",
					"media_content_type": "playlist", "enqueue": "replace",
				}},
			},
			"Playing playlist 'chill vibes' on media_player.shieldi.",
		},
		{Simple(VerbStop), []serviceCall{{"media_player", "media_stop", map[string]any{"entity_id": target}}}, "Playback stopped on media_player.shieldi."},
		{Simple(VerbPause), []serviceCall{{"media_player", "media_pause", map[string]any{"entity_id": target}}}, "Playback paused on media_player.shieldi."},
		{Simple(VerbResume), []serviceCall{{"media_player", "media_play", map[string]any{"entity_id": target}}}, "Playback resumed on media_player.shieldi."},
		{Simple(VerbNext), []serviceCall{{"media_player", "media_next_track", map[string]any{"entity_id": target}}}, "Skipped to next track on media_player.shieldi."},
		{Simple(VerbPrev), []serviceCall{{"media_player", "media_previous_track", map[string]any{"entity_id": target}}}, "Skipped to previous track on media_player.shieldi."},
	}
	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			f := &fakeController{}
			reply, err := newTestPlayer(f).Execute(context.Background(), tt.action)
			if err != nil {
				t.Fatalf("Execute error: %v", err)
			}
			if reply != tt.wantReply {
				t.Errorf("reply = %q, want %q", reply, tt.wantReply)
			}
			if !reflect.DeepEqual(f.calls, tt.wantCalls) {
				t.Errorf("calls = %+v\nwant %+v", f.calls, tt.wantCalls)
			}
		})
	}
}

func TestExecute_Info(t *testing.T) {
	tests := []struct {
		name  string
		state *homeassistant.State
		want  string
	}{
		{
			"playing",
			&homeassistant.State{State: "playing", Attributes: map[string]any{"media_title": "Song A", "media_artist": "Band B"}},
			"Now playing: Song A by Band B on media_player.shieldi",
		},
		{
			"no artist",
			&homeassistant.State{State: "playing", Attributes: map[string]any{"media_title": "Radio"}},
			"Now playing: Radio by unknown artist on media_player.shieldi",
		},
		{
			"idle",
			&homeassistant.State{State: "idle", Attributes: map[string]any{}},
			"No media currently playing on media_player.shieldi",
		},
		{
			"empty title",
			&homeassistant.State{State: "paused", Attributes: map[string]any{"media_title": ""}},
			"No media currently playing on media_player.shieldi",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeController{state: tt.state}
			reply, err := newTestPlayer(f).Execute(context.Background(), Simple(VerbInfo))
			if err != nil {
				t.Fatalf("Execute error: %v", err)
			}
			if reply != tt.want {
				t.Errorf("reply = %q, want %q", reply, tt.want)
			}
			if len(f.calls) != 0 {
				t.Errorf("info issued service calls: %+v", f.calls)
			}
		})
	}
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		ctrl   *fakeController
		wantOp string
		calls  int
	}{
		{"pause fails", Simple(VerbPause), &fakeController{failOn: "media_pause"}, "media_player.media_pause", 1},
		{"load stops after turn_on", Load("x"), &fakeController{failOn: "turn_on"}, "media_player.turn_on", 1},
		{"load play_media fails", Load("x"), &fakeController{failOn: "play_media"}, "media_player.play_media", 2},
		{"state missing", Simple(VerbInfo), &fakeController{stateErr: &homeassistant.APIError{StatusCode: 404}}, "state", 0},
		{"message has no device op", Message("hi"), &fakeController{}, "dispatch", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestPlayer(tt.ctrl).Execute(context.Background(), tt.action)
			var de *DeviceError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DeviceError", err)
			}
			if de.Operation != tt.wantOp || de.EntityID != target {
				t.Errorf("DeviceError = %+v, want op %q", de, tt.wantOp)
			}
			if len(tt.ctrl.calls) != tt.calls {
				t.Errorf("calls = %d, want %d", len(tt.ctrl.calls), tt.calls)
			}
		})
	}
}

func TestNowPlaying_Details(t *testing.T) {
	f := &fakeController{state: &homeassistant.State{State: "playing", Attributes: map[string]any{
		"media_title": "T", "media_artist": "A", "media_album_name": "L",
		"media_duration": 215.0, "media_position": 12.5, "volume_level": 0.3, "is_volume_muted": true,
	}}}
	info, err := newTestPlayer(f).NowPlaying(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := MediaInfo{State: "playing", Title: "T", Artist: "A", Album: "L", Duration: 215, Position: 12.5, Volume: 0.3, Muted: true}
	if *info != want {
		t.Errorf("info = %+v, want %+v", *info, want)
	}
}

func TestAction_String(t *testing.T) {
	tests := map[Action]string{
		Simple(VerbNext): "next",
		Load("jazz"):     "load jazz",
		Message("hei"):   "message hei",
	}
	for a, want := range tests {
		if a.String() != want {
			t.Errorf("%#v.String() = %q, want %q", a, a.String(), want)
		}
	}
	if _, ok := SimpleVerb("load"); ok {
		t.Error("load must not be a simple verb")
	}
}
