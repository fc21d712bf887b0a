package music

import (
	"context"
	"fmt"

	"github.com/paavoai/paavo/internal/homeassistant"
)

// MediaInfo is the now-playing view of a media player.
type MediaInfo struct {
	State    string  `json:"state"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	Duration float64 `json:"duration,omitempty"` // seconds
	Position float64 `json:"position,omitempty"` // seconds
	Volume   float64 `json:"volume,omitempty"`   // 0..1
	Muted    bool    `json:"muted"`
}

// Describe renders the info reply for entityID.
func (m *MediaInfo) Describe(entityID string) string {
	if m.Title == "" {
		return fmt.Sprintf("No media currently playing on %s", entityID)
	}
	artist := m.Artist
	if artist == "" {
		artist = "unknown artist"
	}
	return fmt.Sprintf("Now playing: %s by %s on %s", m.Title, artist, entityID)
}

// NowPlaying reads the entity state. It never changes device state.
func (p *Player) NowPlaying(ctx context.Context) (*MediaInfo, error) {
	st, err := p.ctrl.GetState(ctx, p.entityID)
	if err != nil {
		return nil, &DeviceError{Operation: "state", EntityID: p.entityID, Err: err}
	}
	return mediaInfoFromState(st), nil
}

func mediaInfoFromState(st *homeassistant.State) *MediaInfo {
	info := &MediaInfo{State: st.State}
	info.Title, _ = st.StringAttr("media_title")
	info.Artist, _ = st.StringAttr("media_artist")
	info.Album, _ = st.StringAttr("media_album_name")
	info.Duration, _ = st.FloatAttr("media_duration")
	info.Position, _ = st.FloatAttr("media_position")
	info.Volume, _ = st.FloatAttr("volume_level")
	info.Muted, _ = st.Attributes["is_volume_muted"].(bool)
	return info
}
