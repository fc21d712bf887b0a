package agent

import (
	"strings"

	"github.com/google/uuid"
)

// generateRequestID returns a short id ("r_" plus 8 hex characters) that
// ties together the log lines, events, and audit entries of one turn.
func generateRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
