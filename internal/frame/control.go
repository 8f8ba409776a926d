package frame

// controlBase marks a variant as a control frame.
type controlBase struct{ *Base }

// Category reports [CategoryControl].
func (controlBase) Category() Category { return CategoryControl }

// FlushFrame asks a processor to flush buffered output immediately, e.g.
// forcing the LLM sentence buffer out before a pause. Rarely used; most
// control travels on the session's control channel.
type FlushFrame struct{ controlBase }

// NewFlush builds a FlushFrame.
func NewFlush() *FlushFrame {
	return &FlushFrame{controlBase{newBase("Flush")}}
}
