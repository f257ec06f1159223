package whisper

import "context"

// Task selects between transcription and translation
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// TranscribeOptions are the inference parameters for a single request or
// a whole streaming session.
type TranscribeOptions struct {
	Task                    Task
	Language                string
	InitialPrompt           string
	Temperature             float64
	WordTimestamps          bool
	VADFilter               bool
	ConditionOnPreviousText bool
}

// Word is a word-level timestamp produced when WordTimestamps is set
type Word struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}

// Segment is a time-bounded span of transcribed text. Fields mirror what
// the inference engine reports per segment.
type Segment struct {
	ID               int     `json:"id"`
	Seek             int     `json:"seek"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Tokens           []int   `json:"tokens"`
	Temperature      float64 `json:"temperature"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
	Words            []Word  `json:"words,omitempty"`
}

// Info is the per-request metadata reported alongside the segments
type Info struct {
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
}

// Model is an inference-capable handle to a loaded speech model. A call is
// blocking and possibly slow; the audio span is a consistent snapshot owned
// by the caller.
type Model interface {
	Transcribe(ctx context.Context, samples []float32, opts TranscribeOptions) ([]Segment, Info, error)
}
