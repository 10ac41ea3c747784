package supervisor

import (
	"fmt"
	"strings"
)

// splitCommand splits a command line into arguments. Single and double
// quotes group words and a backslash escapes the next character.
func splitCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inWord := false
	quote := rune(0)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				args = append(args, current.String())
				current.Reset()
				inWord = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			inWord = true
		default:
			current.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	if inWord {
		args = append(args, current.String())
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}

// lineLevel guesses a log level from a line of producer output.
func lineLevel(line string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "level=error"), strings.Contains(lower, "error"), strings.Contains(lower, "fatal"):
		return "error"
	case strings.Contains(lower, "level=warn"), strings.Contains(lower, "warn"):
		return "warn"
	case strings.Contains(lower, "level=debug"):
		return "debug"
	default:
		return "info"
	}
}
