package prompts

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Placeholders substituted by Render.
const (
	HistoryPlaceholder = "{conversation_history}"
	MessagePlaceholder = "{message}"
)

// Set is one complete group of templates.
type Set struct {
	TopicClassify string `toml:"topic_get_prompt,multiline"`
	MusicAction   string `toml:"music_get_action_prompt,multiline"`
	UserError     string `toml:"user_error_prompt,multiline"`
	UserReply     string `toml:"user_reply_prompt,multiline"`
}

// Defaults returns the built-in templates.
func Defaults() *Set {
	return &Set{
		TopicClassify: TopicClassify,
		MusicAction:   MusicAction,
		UserError:     UserError,
		UserReply:     UserReply,
	}
}

// Render substitutes every occurrence of both placeholders. No other
// templating is applied, so braces in history or message pass through.
func Render(template, history, message string) string {
	r := strings.NewReplacer(HistoryPlaceholder, history, MessagePlaceholder, message)
	return r.Replace(template)
}

type fileLayout struct {
	Conversation struct {
		TopicClassify *string `toml:"topic_get_prompt,multiline"`
		MusicAction   *string `toml:"music_get_action_prompt,multiline"`
		UserError     *string `toml:"user_error_prompt,multiline"`
		UserReply     *string `toml:"user_reply_prompt,multiline"`
	} `toml:"conversation"`
}

// ErrEmptyTopicPrompt is returned when a prompt file sets
// topic_get_prompt to a blank string.
var ErrEmptyTopicPrompt = errors.New("topic_get_prompt is empty")

// LoadFile reads a TOML prompt file and merges it over Defaults. Keys
// absent from the file keep their built-in value.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse is LoadFile without the file read.
func Parse(data []byte) (*Set, error) {
	var f fileLayout
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompt file: %w", err)
	}

	set := Defaults()
	c := f.Conversation
	if c.TopicClassify != nil {
		if strings.TrimSpace(*c.TopicClassify) == "" {
			return nil, ErrEmptyTopicPrompt
		}
		set.TopicClassify = *c.TopicClassify
	}
	for _, o := range []struct {
		src *string
		dst *string
	}{
		{c.MusicAction, &set.MusicAction},
		{c.UserError, &set.UserError},
		{c.UserReply, &set.UserReply},
	} {
		if o.src != nil && strings.TrimSpace(*o.src) != "" {
			*o.dst = *o.src
		}
	}
	return set, nil
}

// Encode renders s in the prompt file layout. Used by paavo init.
func Encode(s *Set) ([]byte, error) {
	out := struct {
		Conversation *Set `toml:"conversation"`
	}{Conversation: s}
	return toml.Marshal(out)
}
