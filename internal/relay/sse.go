package relay

import (
	"encoding/json"
	"fmt"
	"io"

	"rekindle/internal/resume"
)

// writeFrame emits one wire frame for a StreamEvent:
//
//	data: {"text": "<fragment>"}
//	data: [DONE]
//	data: {"error": "<message>"}
//
// each followed by a blank line.
func writeFrame(w io.Writer, ev resume.StreamEvent) error {
	switch ev.Kind {
	case resume.EventText:
		payload, err := json.Marshal(struct {
			Text string `json:"text"`
		}{ev.Text})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
		return err
	case resume.EventDone:
		_, err := io.WriteString(w, "data: [DONE]\n\n")
		return err
	case resume.EventError:
		payload, err := json.Marshal(struct {
			Error string `json:"error"`
		}{ev.Message})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
		return err
	default:
		return fmt.Errorf("unknown event kind: %d", ev.Kind)
	}
}
