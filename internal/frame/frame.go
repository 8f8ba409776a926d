// Package frame defines the messages that travel through a call pipeline.
//
// A frame is a tagged variant: concrete types embed [Base] for identity and
// declare their class via [Frame.Category]. System frames (lifecycle and
// speech events) outrank data frames (audio, text); control frames are
// processor-internal and rare; most control flow travels out-of-band on the
// session's control channel, not through the pipeline.
package frame

import (
	"fmt"
	"sync/atomic"
	"time"
)

// frameCounter issues process-wide unique frame ids.
var frameCounter atomic.Uint64

// Category partitions frame variants by priority class.
type Category int

const (
	// CategorySystem frames carry lifecycle and speech-boundary events.
	CategorySystem Category = iota

	// CategoryData frames carry call payloads: audio, text, images.
	CategoryData

	// CategoryControl frames carry processor-internal control.
	CategoryControl
)

// String returns the category label used in logs.
func (c Category) String() string {
	switch c {
	case CategorySystem:
		return "system"
	case CategoryData:
		return "data"
	case CategoryControl:
		return "control"
	default:
		return "unknown"
	}
}

// Direction is the way a frame moves between two linked processors.
type Direction int

const (
	// Downstream flows source → sink (VAD → STT → LLM → TTS).
	Downstream Direction = iota

	// Upstream flows sink → source; used for backpressure and for the TTS
	// last-resort audio hook when no output callback is wired.
	Upstream
)

// String returns the direction label used in logs.
func (d Direction) String() string {
	switch d {
	case Downstream:
		return "downstream"
	case Upstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Frame is the interface all pipeline messages implement.
type Frame interface {
	// ID is unique per frame within the process lifetime.
	ID() uint64

	// Name is the variant tag, e.g. "Audio" or "UserStartedSpeaking".
	Name() string

	// Timestamp is the frame's creation time.
	Timestamp() time.Time

	// TraceID correlates every frame spawned while handling one utterance.
	TraceID() string

	// SetTraceID stamps the frame with a correlation id. Processors deriving
	// a frame from another must propagate the parent's trace id.
	SetTraceID(id string)

	// Metadata exposes the frame's free-form annotations. May be nil.
	Metadata() map[string]any

	// SetMetadata annotates the frame.
	SetMetadata(key string, value any)

	// Category reports the frame's priority class.
	Category() Category

	fmt.Stringer
}

// Base provides identity, timing and metadata for every frame variant.
// Frames are owned by exactly one processor at a time, so Base is not
// synchronised.
type Base struct {
	id        uint64
	name      string
	timestamp time.Time
	traceID   string
	metadata  map[string]any
}

func newBase(name string) *Base {
	return &Base{
		id:        frameCounter.Add(1),
		name:      name,
		timestamp: time.Now(),
	}
}

// ID returns the frame's unique id.
func (b *Base) ID() uint64 { return b.id }

// Name returns the variant tag.
func (b *Base) Name() string { return b.name }

// Timestamp returns the creation time.
func (b *Base) Timestamp() time.Time { return b.timestamp }

// TraceID returns the correlation id, or "" when unset.
func (b *Base) TraceID() string { return b.traceID }

// SetTraceID stamps the correlation id.
func (b *Base) SetTraceID(id string) { b.traceID = id }

// Metadata returns the annotation map. Nil until the first SetMetadata.
func (b *Base) Metadata() map[string]any { return b.metadata }

// SetMetadata annotates the frame, allocating the map on first use.
func (b *Base) SetMetadata(key string, value any) {
	if b.metadata == nil {
		b.metadata = make(map[string]any)
	}
	b.metadata[key] = value
}

// String implements fmt.Stringer.
func (b *Base) String() string {
	return fmt.Sprintf("%s#%d", b.name, b.id)
}
