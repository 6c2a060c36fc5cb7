package task

import "time"

// Result is the immutable outcome attached to a finished task.
// Build it with SuccessResult or ErrorResult.
type Result struct {
	content   string
	success   bool
	errMsg    string
	metadata  map[string]any
	timestamp time.Time
}

// SuccessResult creates a successful result carrying content.
func SuccessResult(content string, metadata map[string]any) Result {
	return Result{
		content:   content,
		success:   true,
		metadata:  copyMap(metadata),
		timestamp: now(),
	}
}

// ErrorResult creates a failed result carrying an error message.
func ErrorResult(msg string, metadata map[string]any) Result {
	if msg == "" {
		msg = "task failed"
	}
	return Result{
		success:   false,
		errMsg:    msg,
		metadata:  copyMap(metadata),
		timestamp: now(),
	}
}

func (r Result) Content() string      { return r.content }
func (r Result) Success() bool        { return r.success }
func (r Result) ErrorMessage() string { return r.errMsg }
func (r Result) Timestamp() time.Time { return r.timestamp }

// Metadata returns a copy of the result metadata.
func (r Result) Metadata() map[string]any { return copyMap(r.metadata) }

// ResultSnapshot is the storage view of a Result.
type ResultSnapshot struct {
	Content   string         `json:"content,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Snapshot exports the result for storage.
func (r Result) Snapshot() ResultSnapshot {
	return ResultSnapshot{
		Content:   r.content,
		Success:   r.success,
		Error:     r.errMsg,
		Metadata:  copyMap(r.metadata),
		Timestamp: r.timestamp,
	}
}

func restoreResult(s ResultSnapshot) Result {
	r := Result{
		content:   s.Content,
		success:   s.Success,
		metadata:  copyMap(s.Metadata),
		timestamp: s.Timestamp,
	}
	if !s.Success {
		r.errMsg = s.Error
		if r.errMsg == "" {
			r.errMsg = "task failed"
		}
	}
	return r
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
