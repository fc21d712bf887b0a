package router

import (
	"fmt"
	"strings"

	"github.com/paavoai/paavo/internal/music"
)

// Topic is the coarse intent of a user turn.
type Topic int

const (
	TopicLights Topic = iota + 1
	TopicMusic
	TopicSensor
)

func (t Topic) String() string {
	switch t {
	case TopicLights:
		return "lights"
	case TopicMusic:
		return "music"
	case TopicSensor:
		return "sensor"
	}
	return fmt.Sprintf("Topic(%d)", int(t))
}

// ParseTopic maps an exact topic keyword to a Topic.
func ParseTopic(s string) (Topic, bool) {
	switch s {
	case "lights":
		return TopicLights, true
	case "music":
		return TopicMusic, true
	case "sensor":
		return TopicSensor, true
	}
	return 0, false
}

// Reply is a model answer split into its two labelled lines.
type Reply struct {
	Reasoning string
	Value     string
}

const reasoningMarker = "reasoning:"

// splitReply lower-cases raw and pulls the first line after the last
// occurrence of each marker. ok is false when either marker is missing.
func splitReply(raw, valueMarker string) (r Reply, normalized string, ok bool) {
	normalized = strings.TrimSpace(strings.ToLower(raw))
	if !strings.Contains(normalized, reasoningMarker) || !strings.Contains(normalized, valueMarker) {
		return Reply{}, normalized, false
	}
	return Reply{
		Reasoning: lineAfterLast(normalized, reasoningMarker),
		Value:     lineAfterLast(normalized, valueMarker),
	}, normalized, true
}

func lineAfterLast(s, marker string) string {
	rest := s[strings.LastIndex(s, marker)+len(marker):]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

// ParseTopicReply extracts the topic from a classification reply.
// Failures are *ClassificationError with KindBadFormat or
// KindUnknownValue.
func ParseTopicReply(raw string) (Topic, Reply, error) {
	r, normalized, ok := splitReply(raw, "topic:")
	if !ok {
		return 0, r, &ClassificationError{Kind: KindBadFormat, Raw: normalized}
	}
	topic, ok := ParseTopic(r.Value)
	if !ok {
		return 0, r, &ClassificationError{Kind: KindUnknownValue, Raw: normalized, Value: r.Value}
	}
	return topic, r, nil
}

// ParseActionReply extracts the music action from a resolution reply.
// Failures are *ResolutionError with KindBadFormat or KindUnknownValue.
func ParseActionReply(raw string) (music.Action, Reply, error) {
	r, normalized, ok := splitReply(raw, "action:")
	if !ok {
		return music.Action{}, r, &ResolutionError{Kind: KindBadFormat, Raw: normalized}
	}
	if v, ok := music.SimpleVerb(r.Value); ok {
		return music.Simple(v), r, nil
	}
	if name, ok := strings.CutPrefix(r.Value, "load "); ok {
		return music.Load(strings.TrimSpace(name)), r, nil
	}
	if text, ok := strings.CutPrefix(r.Value, "message "); ok {
		return music.Message(strings.TrimSpace(text)), r, nil
	}
	return music.Action{}, r, &ResolutionError{Kind: KindUnknownValue, Raw: normalized, Value: r.Value}
}
