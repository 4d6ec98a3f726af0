package router

import (
	"strings"

	"github.com/google/uuid"
)

// maxCommandName is Telegram's limit for bot command names.
const maxCommandName = 32

// newReqID returns a short id used to correlate a command's log lines.
func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// parseCommand splits "/boss@TibiaBot extra words" into the lowercased
// command name, the addressed bot (if any) and the remaining words.
// ok is false for text that is not a command.
func parseCommand(text string) (name, bot string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", "", nil, false
	}
	head := strings.TrimPrefix(fields[0], "/")
	head, bot, _ = strings.Cut(head, "@")
	name = strings.ToLower(head)
	if name == "" {
		return "", "", nil, false
	}
	return name, bot, fields[1:], true
}

// validCommandName reports whether s can be registered as a Telegram command:
// [a-z0-9_], starting with a letter, at most 32 bytes.
func validCommandName(s string) bool {
	if s == "" || len(s) > maxCommandName || s[0] < 'a' || s[0] > 'z' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}
