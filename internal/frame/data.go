package frame

import "fmt"

// Conversation roles carried by text frames.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"

	// RoleFunction marks tool results fed back into the model after a
	// tool call.
	RoleFunction = "function"
)

// dataBase marks a variant as a data frame.
type dataBase struct{ *Base }

// Category reports [CategoryData].
func (dataBase) Category() Category { return CategoryData }

// AudioFrame carries raw audio bytes. The encoding is whatever the transport
// delivered (PCM16 for browser clients, already-decoded PCM for telephony);
// sample rate and channel count travel with the frame so the VAD can pick the
// right chunk size.
type AudioFrame struct {
	dataBase

	// Data is the raw audio payload.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int
}

// NewAudio builds an AudioFrame.
func NewAudio(data []byte, sampleRate, channels int) *AudioFrame {
	return &AudioFrame{dataBase{newBase("Audio")}, data, sampleRate, channels}
}

// String includes the payload size, which is what you want in a debug log.
func (f *AudioFrame) String() string {
	return fmt.Sprintf("%s#%d(%dB@%dHz)", f.name, f.id, len(f.Data), f.SampleRate)
}

// TextFrame carries transcribed or generated text.
type TextFrame struct {
	dataBase

	// Text is the payload.
	Text string

	// IsFinal distinguishes finalized segments from interim ones. The
	// pipeline only acts on finals.
	IsFinal bool

	// Role is the conversation role that produced the text.
	Role string
}

// NewText builds a TextFrame.
func NewText(text string, isFinal bool, role string) *TextFrame {
	return &TextFrame{dataBase{newBase("Text")}, text, isFinal, role}
}

// String truncates long payloads.
func (f *TextFrame) String() string {
	text := f.Text
	if len(text) > 40 {
		text = text[:40] + "…"
	}
	return fmt.Sprintf("%s#%d(%s:%q)", f.name, f.id, f.Role, text)
}

// ImageFrame carries image data for vision-capable models.
type ImageFrame struct {
	dataBase

	// Data is the encoded image.
	Data []byte

	// MimeType identifies the encoding, e.g. "image/png".
	MimeType string
}

// NewImage builds an ImageFrame.
func NewImage(data []byte, mimeType string) *ImageFrame {
	return &ImageFrame{dataBase{newBase("Image")}, data, mimeType}
}
