package frame

// systemBase marks a variant as a system frame.
type systemBase struct{ *Base }

// Category reports [CategorySystem].
func (systemBase) Category() Category { return CategorySystem }

// StartFrame opens the pipeline; every processor receives it before any data.
type StartFrame struct{ systemBase }

// NewStart builds a StartFrame.
func NewStart() *StartFrame {
	return &StartFrame{systemBase{newBase("Start")}}
}

// EndFrame closes the pipeline gracefully after in-flight frames drain.
type EndFrame struct {
	systemBase

	// Reason records why the pipeline is ending.
	Reason string
}

// NewEnd builds an EndFrame.
func NewEnd(reason string) *EndFrame {
	return &EndFrame{systemBase{newBase("End")}, reason}
}

// CancelFrame aborts in-flight work: the LLM processor cancels its running
// generation and the TTS processor flushes its queue. The STT session stays
// open so the user can immediately speak again.
type CancelFrame struct {
	systemBase

	// Reason records what triggered the cancellation.
	Reason string
}

// NewCancel builds a CancelFrame.
func NewCancel(reason string) *CancelFrame {
	return &CancelFrame{systemBase{newBase("Cancel")}, reason}
}

// EndTaskFrame signals that the conversation asked for the call to finish,
// e.g. the model emitted its end-call sentinel. The orchestrator translates
// it into a graceful session end.
type EndTaskFrame struct {
	systemBase

	// TaskID names the task requesting the end.
	TaskID string

	// Result is an optional task outcome carried to the session end.
	Result string
}

// NewEndTask builds an EndTaskFrame.
func NewEndTask(taskID, result string) *EndTaskFrame {
	return &EndTaskFrame{systemBase{newBase("EndTask")}, taskID, result}
}

// ErrorFrame reports a processor failure. Fatal errors tear the call down;
// non-fatal ones are logged and the pipeline continues.
type ErrorFrame struct {
	systemBase

	// Message describes the failure.
	Message string

	// Fatal marks errors the session cannot survive.
	Fatal bool
}

// NewError builds an ErrorFrame.
func NewError(message string, fatal bool) *ErrorFrame {
	return &ErrorFrame{systemBase{newBase("Error")}, message, fatal}
}

// Backpressure severity levels.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// BackpressureFrame travels upstream when a processor's queue approaches
// capacity, letting sources throttle before frames are dropped.
type BackpressureFrame struct {
	systemBase

	// QueueSize is the current queue depth.
	QueueSize int

	// MaxSize is the queue capacity.
	MaxSize int

	// Severity is SeverityWarning or SeverityCritical.
	Severity string
}

// NewBackpressure builds a BackpressureFrame.
func NewBackpressure(queueSize, maxSize int, severity string) *BackpressureFrame {
	return &BackpressureFrame{systemBase{newBase("Backpressure")}, queueSize, maxSize, severity}
}

// UserStartedSpeakingFrame is emitted by the VAD processor at speech onset.
type UserStartedSpeakingFrame struct{ systemBase }

// NewUserStartedSpeaking builds a UserStartedSpeakingFrame.
func NewUserStartedSpeaking() *UserStartedSpeakingFrame {
	return &UserStartedSpeakingFrame{systemBase{newBase("UserStartedSpeaking")}}
}

// UserStoppedSpeakingFrame is emitted by the VAD processor once the
// configured silence window elapses after speech.
type UserStoppedSpeakingFrame struct{ systemBase }

// NewUserStoppedSpeaking builds a UserStoppedSpeakingFrame.
func NewUserStoppedSpeaking() *UserStoppedSpeakingFrame {
	return &UserStoppedSpeakingFrame{systemBase{newBase("UserStoppedSpeaking")}}
}
