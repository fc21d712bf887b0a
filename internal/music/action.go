// Package music executes resolved music actions against a Home Assistant
// media_player entity.
package music

import "fmt"

// Verb is the kind of music action.
type Verb int

const (
	VerbPlay Verb = iota + 1
	VerbStop
	VerbPause
	VerbResume
	VerbNext
	VerbPrev
	VerbInfo
	VerbLoad    // Arg is the playlist name
	VerbMessage // Arg is the text to speak; no device call
)

var verbNames = map[Verb]string{
	VerbPlay:    "play",
	VerbStop:    "stop",
	VerbPause:   "pause",
	VerbResume:  "resume",
	VerbNext:    "next",
	VerbPrev:    "prev",
	VerbInfo:    "info",
	VerbLoad:    "load",
	VerbMessage: "message",
}

func (v Verb) String() string {
	if s, ok := verbNames[v]; ok {
		return s
	}
	return fmt.Sprintf("Verb(%d)", int(v))
}

// simpleVerbs are the verbs that take no argument, keyed by their reply
// keyword.
var simpleVerbs = map[string]Verb{
	"play":   VerbPlay,
	"stop":   VerbStop,
	"pause":  VerbPause,
	"resume": VerbResume,
	"next":   VerbNext,
	"prev":   VerbPrev,
	"info":   VerbInfo,
}

// SimpleVerb looks up an argument-free verb by keyword.
func SimpleVerb(keyword string) (Verb, bool) {
	v, ok := simpleVerbs[keyword]
	return v, ok
}

// Action is a resolved music command. Arg is only meaningful for
// VerbLoad and VerbMessage.
type Action struct {
	Verb Verb   `json:"verb"`
	Arg  string `json:"arg,omitempty"`
}

// Load returns an action that plays the named playlist.
func Load(playlist string) Action { return Action{Verb: VerbLoad, Arg: playlist} }

// Message returns an action that answers with text instead of acting.
func Message(text string) Action { return Action{Verb: VerbMessage, Arg: text} }

// Simple returns an argument-free action.
func Simple(v Verb) Action { return Action{Verb: v} }

func (a Action) String() string {
	switch a.Verb {
	case VerbLoad, VerbMessage:
		return a.Verb.String() + " " + a.Arg
	}
	return a.Verb.String()
}
