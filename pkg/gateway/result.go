package gateway

import (
	"fmt"

	"github.com/zhaopengme/keycheck/pkg/command"
)

// Result is the outcome of one handler. Reply is sent on success. On failure
// Err is set and ErrorText is sent instead.
type Result struct {
	Kind   command.Kind
	Target string
	Reply  string
	Err    error

	// errorPrefix describes what was attempted, e.g. "Error resolving address 0x1".
	errorPrefix string
}

func (r Result) Failed() bool {
	return r.Err != nil
}

// ErrorText is the user-facing message for a failed Result.
func (r Result) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	prefix := r.errorPrefix
	if prefix == "" {
		prefix = fmt.Sprintf("Error running %s", r.Kind)
	}
	return fmt.Sprintf("%s: %v", prefix, r.Err)
}

func reply(kind command.Kind, target, text string) Result {
	return Result{Kind: kind, Target: target, Reply: text}
}

func failure(kind command.Kind, target, prefix string, err error) Result {
	return Result{Kind: kind, Target: target, Err: classify(err), errorPrefix: prefix}
}
