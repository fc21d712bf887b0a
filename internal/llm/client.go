// Package llm talks to the Ollama server that backs every language-model
// call Paavo makes: topic classification, music action resolution and
// reply rephrasing.
package llm

import "context"

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
