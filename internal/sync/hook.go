package sync

import (
	"bytes"
	"errors"
	"io"

	"github.com/tidwall/gjson"
)

// Lifecycle events delivered by the agent runtime. ManualEvent marks
// an invocation started by the user rather than a hook, and is always
// eligible for sync regardless of the enabled-hook configuration.
const (
	ManualEvent     = "manual"
	SessionEndEvent = "SessionEnd"
)

// Request describes one sync invocation: which session to upload,
// where its transcript lives, and which lifecycle event triggered it.
type Request struct {
	SessionID      string
	TranscriptPath string
	WorkingDir     string
	HookEvent      string
}

// ParseHookPayload decodes the JSON payload the agent runtime writes
// to a hook's stdin. Unknown fields are ignored; missing fields come
// back empty and are validated by the engine.
func ParseHookPayload(r io.Reader) (Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Request{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Request{}, errors.New("empty hook payload")
	}
	if !gjson.ValidBytes(data) {
		return Request{}, errors.New("hook payload is not valid JSON")
	}
	v := gjson.ParseBytes(data)
	return Request{
		SessionID:      v.Get("session_id").String(),
		TranscriptPath: v.Get("transcript_path").String(),
		WorkingDir:     v.Get("cwd").String(),
		HookEvent:      v.Get("hook_event_name").String(),
	}, nil
}
