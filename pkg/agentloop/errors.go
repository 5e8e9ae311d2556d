package agentloop

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions with no further context to carry.
var (
	// ErrCancelled is surfaced as Error{"cancelled"} when the Cancellation
	// Coordinator's token fires while a round is suspended.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidResponse is returned by submit_response when the response
	// fails validation against the pending question's options.
	ErrInvalidResponse = errors.New("response is not a valid option")

	// ErrNoPendingQuestion is returned by submit_response when the session
	// has no outstanding pending question to resolve.
	ErrNoPendingQuestion = errors.New("session has no pending question")

	// ErrSessionNotFound is returned by submit_response when the session
	// is neither live in the registry nor persisted in the store.
	ErrSessionNotFound = errors.New("session not found")
)

// RegistryErrorKind enumerates tool registration-time failures. These
// never surface mid-turn.
type RegistryErrorKind int

const (
	DuplicateTool RegistryErrorKind = iota
	InvalidTool
)

// RegistryError reports a tool registration failure.
type RegistryError struct {
	Kind RegistryErrorKind
	Name string
}

func (e *RegistryError) Error() string {
	switch e.Kind {
	case DuplicateTool:
		return fmt.Sprintf("duplicate tool: %s", e.Name)
	case InvalidTool:
		return fmt.Sprintf("invalid tool: %s", e.Name)
	default:
		return "registry error"
	}
}

// IsDuplicateTool reports whether err is a DuplicateTool RegistryError.
func IsDuplicateTool(err error) bool {
	var re *RegistryError
	return errors.As(err, &re) && re.Kind == DuplicateTool
}

// IsInvalidTool reports whether err is an InvalidTool RegistryError.
func IsInvalidTool(err error) bool {
	var re *RegistryError
	return errors.As(err, &re) && re.Kind == InvalidTool
}

// ToolErrorKind enumerates dispatcher-level failures. All are demoted to
// ToolResult content rather than aborting the round.
type ToolErrorKind int

const (
	ToolNotFound ToolErrorKind = iota
	ToolInvalidArguments
	ToolExecutionFailed
)

// ToolError reports a dispatch-time failure for one tool call.
type ToolError struct {
	Kind ToolErrorKind
	Name string
	Err  error
}

func (e *ToolError) Error() string {
	switch e.Kind {
	case ToolNotFound:
		return fmt.Sprintf("tool not found: %s", e.Name)
	case ToolInvalidArguments:
		return fmt.Sprintf("invalid arguments for tool %s: %v", e.Name, e.Err)
	case ToolExecutionFailed:
		return fmt.Sprintf("tool %s failed: %v", e.Name, e.Err)
	default:
		return "tool error"
	}
}

func (e *ToolError) Unwrap() error { return e.Err }

// AsToolResult converts a ToolError into the normal failed ToolResult that
// the Scheduler appends as a tool-role message, letting the model observe
// and self-correct on the next round.
func (e *ToolError) AsToolResult() ToolResult {
	return ToolResult{Success: false, Result: e.Error()}
}

// StorageErrorKind distinguishes whether a storage failure invalidates the
// round (journal append) or is merely logged and tolerated (snapshot save).
type StorageErrorKind int

const (
	StorageJournalAppend StorageErrorKind = iota
	StorageSnapshotSave
	StorageSnapshotLoad
)

// StorageError wraps an I/O failure from the Event Log Store.
type StorageError struct {
	Kind StorageErrorKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Fatal reports whether this storage error must abort the current round.
// Journal-append failures are fatal (the event log is the source of truth
// for in-round progress); snapshot failures are not.
func (e *StorageError) Fatal() bool {
	return e.Kind == StorageJournalAppend
}
