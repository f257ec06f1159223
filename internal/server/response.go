package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/magicxor/faster-whisper-server/internal/whisper"
)

// ResponseFormat selects the shape of transcription responses
type ResponseFormat string

const (
	FormatText        ResponseFormat = "text"
	FormatJSON        ResponseFormat = "json"
	FormatVerboseJSON ResponseFormat = "verbose_json"
)

// ParseResponseFormat validates a response_format value, falling back to
// the given default when the value is empty.
func ParseResponseFormat(value, fallback string) (ResponseFormat, error) {
	if value == "" {
		value = fallback
	}
	switch ResponseFormat(value) {
	case FormatText, FormatJSON, FormatVerboseJSON:
		return ResponseFormat(value), nil
	default:
		return "", fmt.Errorf("invalid response_format %q", value)
	}
}

// transcriptionJSON is the OpenAI-compatible json response body
type transcriptionJSON struct {
	Text string `json:"text"`
}

// transcriptionVerboseJSON is the OpenAI-compatible verbose_json response
// body. Words is present only when word timestamps were requested.
type transcriptionVerboseJSON struct {
	Task     string            `json:"task"`
	Language string            `json:"language"`
	Duration float64           `json:"duration"`
	Text     string            `json:"text"`
	Words    []whisper.Word    `json:"words,omitempty"`
	Segments []whisper.Segment `json:"segments"`
}

// verboseFromSegments builds the verbose_json body from a segment list
func verboseFromSegments(segments []whisper.Segment, info whisper.Info, task whisper.Task) transcriptionVerboseJSON {
	var words []whisper.Word
	for _, s := range segments {
		words = append(words, s.Words...)
	}
	if segments == nil {
		segments = []whisper.Segment{}
	}
	return transcriptionVerboseJSON{
		Task:     string(task),
		Language: info.Language,
		Duration: info.Duration,
		Text:     segmentsText(segments),
		Words:    words,
		Segments: segments,
	}
}

// renderSegments serializes a completed transcription in the requested
// format. Text format is plain UTF-8; the others are JSON.
func renderSegments(segments []whisper.Segment, info whisper.Info, task whisper.Task, format ResponseFormat) ([]byte, string, error) {
	switch format {
	case FormatText:
		return []byte(segmentsText(segments)), "text/plain; charset=utf-8", nil
	case FormatJSON:
		body, err := json.Marshal(transcriptionJSON{Text: segmentsText(segments)})
		return body, "application/json", err
	case FormatVerboseJSON:
		body, err := json.Marshal(verboseFromSegments(segments, info, task))
		return body, "application/json", err
	default:
		return nil, "", fmt.Errorf("invalid response_format %q", format)
	}
}

// renderSegmentSSE serializes one segment as a server-sent event in the
// requested format.
func renderSegmentSSE(segment whisper.Segment, info whisper.Info, task whisper.Task, format ResponseFormat) ([]byte, error) {
	var data []byte
	switch format {
	case FormatText:
		data = []byte(segment.Text)
	case FormatJSON:
		body, err := json.Marshal(transcriptionJSON{Text: segment.Text})
		if err != nil {
			return nil, err
		}
		data = body
	case FormatVerboseJSON:
		body, err := json.Marshal(verboseFromSegments([]whisper.Segment{segment}, info, task))
		if err != nil {
			return nil, err
		}
		data = body
	default:
		return nil, fmt.Errorf("invalid response_format %q", format)
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data)), nil
}

// segmentsText joins segment texts into one transcript string
func segmentsText(segments []whisper.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, strings.TrimSpace(s.Text))
	}
	return strings.Join(parts, " ")
}
