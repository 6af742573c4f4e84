package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Action operations a task execution response may request.
const (
	ActionCreateFile = "create_file"
	ActionModifyFile = "modify_file"
	ActionReadFile   = "read_file"
	ActionRunCommand = "run_command"
)

// ErrUnparseableActions is returned when model output cannot be interpreted
// as an action list.
var ErrUnparseableActions = errors.New("model output is not a parseable action list")

// Action is a single workspace operation requested by a task execution
// response. Path and Content apply to file operations, Command to
// run_command.
type Action struct {
	Op      string `json:"op"`
	Path    string `json:"path"`
	Content string `json:"content"`
	Command string `json:"command"`
}

// ParseActions extracts workspace actions from untrusted model output. The
// output must contain a JSON array of action objects; surrounding prose and
// code fences are tolerated. An empty array is a valid no-op result.
func ParseActions(text string) ([]Action, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, ErrUnparseableActions
	}

	var actions []Action
	if err := json.Unmarshal([]byte(text[start:end+1]), &actions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableActions, err)
	}
	for i, a := range actions {
		switch a.Op {
		case ActionCreateFile, ActionModifyFile:
			if a.Path == "" {
				return nil, fmt.Errorf("%w: action %d missing path", ErrUnparseableActions, i)
			}
		case ActionReadFile:
			if a.Path == "" {
				return nil, fmt.Errorf("%w: action %d missing path", ErrUnparseableActions, i)
			}
		case ActionRunCommand:
			if a.Command == "" {
				return nil, fmt.Errorf("%w: action %d missing command", ErrUnparseableActions, i)
			}
		default:
			return nil, fmt.Errorf("%w: action %d has unknown op %q", ErrUnparseableActions, i, a.Op)
		}
	}
	return actions, nil
}
