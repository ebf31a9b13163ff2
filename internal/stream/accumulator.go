package stream

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/message"
)

// toolStateRank orders tool part states so transitions only ever move
// forward. The three output states share a rank: whichever arrives
// first is final.
var toolStateRank = map[string]int{
	message.ToolStateInputStreaming:  1,
	message.ToolStateInputAvailable:  2,
	message.ToolStateOutputAvailable: 3,
	message.ToolStateOutputDenied:    3,
	message.ToolStateOutputError:     3,
}

// Accumulator folds an event sequence into one assistant turn.
//
// Folding is idempotent over re-delivered prefixes: every applied
// envelope's sequence number is remembered, and envelopes at or below
// it are no-ops. Unknown event types are ignored so a newer producer
// never breaks an older consumer. Content accumulates only on the open
// trailing part; tool state transitions may target earlier parts by
// call id but only move forward.
type Accumulator struct {
	turn     message.Turn
	lastSeq  uint64
	started  bool
	finished bool

	// open accumulating text/reasoning part, -1 when none
	openIndex int
	openKey   string
}

// NewAccumulator returns an empty accumulator ready for a start event.
func NewAccumulator() *Accumulator {
	return &Accumulator{openIndex: -1}
}

// Apply folds one event and reports whether it changed state. Events
// already applied (by sequence number) and unknown types return false.
func (a *Accumulator) Apply(ev Event) bool {
	if ev.Seq != 0 {
		if ev.Seq <= a.lastSeq {
			return false
		}
		a.lastSeq = ev.Seq
	}
	if a.finished {
		return false
	}

	switch ev.Type {
	case EventStart:
		if a.started {
			return false
		}
		a.started = true
		a.turn.Role = message.RoleAssistant
		if id, err := uuid.Parse(ev.TurnID); err == nil {
			a.turn.ID = id
		}
		return true

	case EventTextStart:
		a.openPart(message.NewTextPart(""), ev.PartID)
		return true

	case EventTextDelta:
		a.appendDelta(message.TypeText, ev.PartID, ev.Delta)
		return true

	case EventTextEnd:
		a.closeOpenPart(ev.PartID)
		return true

	case EventReasoningStart:
		a.openPart(message.NewReasoningPart(""), ev.PartID)
		return true

	case EventReasoningDelta:
		a.appendDelta(message.TypeReasoning, ev.PartID, ev.Delta)
		return true

	case EventReasoningEnd:
		a.closeOpenPart(ev.PartID)
		return true

	case EventToolInputStart:
		a.finalizeOpenPart()
		a.turn.Parts = append(a.turn.Parts, message.NewToolPart(ev.ToolName, ev.ToolCallID))
		return true

	case EventToolInputDelta:
		i := a.findToolPart(ev.ToolCallID)
		if i < 0 || a.turn.Parts[i].State != message.ToolStateInputStreaming {
			return false
		}
		a.turn.Parts[i].Input = append(a.turn.Parts[i].Input, ev.Delta...)
		return true

	case EventToolInputAvailable:
		i := a.findToolPart(ev.ToolCallID)
		if i < 0 {
			a.finalizeOpenPart()
			a.turn.Parts = append(a.turn.Parts, message.NewToolPart(ev.ToolName, ev.ToolCallID))
			i = len(a.turn.Parts) - 1
		}
		if !a.advanceToolState(i, message.ToolStateInputAvailable) {
			return false
		}
		a.turn.Parts[i].Input = append(json.RawMessage(nil), ev.Input...)
		return true

	case EventToolOutputAvailable:
		i := a.findToolPart(ev.ToolCallID)
		if i < 0 || !a.advanceToolState(i, message.ToolStateOutputAvailable) {
			return false
		}
		a.turn.Parts[i].Output = append(json.RawMessage(nil), ev.Output...)
		return true

	case EventToolOutputError:
		i := a.findToolPart(ev.ToolCallID)
		if i < 0 || !a.advanceToolState(i, message.ToolStateOutputError) {
			return false
		}
		a.turn.Parts[i].ErrorText = ev.ErrorText
		return true

	case EventToolOutputDenied:
		i := a.findToolPart(ev.ToolCallID)
		if i < 0 || !a.advanceToolState(i, message.ToolStateOutputDenied) {
			return false
		}
		return true

	case EventData:
		a.turn.Parts = append(a.turn.Parts, message.NewDataPart(ev.Name, ev.Data))
		return true

	case EventFinish:
		a.finalizeOpenPart()
		a.turn.StopReason = ev.StopReason
		if a.turn.StopReason == "" {
			a.turn.StopReason = message.StopReasonStop
		}
		if ev.Usage != nil {
			u := *ev.Usage
			a.turn.Usage = &u
		}
		a.finished = true
		return true

	case EventError:
		a.finalizeOpenPart()
		a.turn.StopReason = message.StopReasonError
		a.turn.ErrorText = ev.ErrorText
		a.finished = true
		return true

	default:
		// Unknown event types are ignored for forward compatibility.
		return false
	}
}

// Interrupt finalizes the turn as interrupted. Consumers call it when
// the stream closes without a terminal envelope.
func (a *Accumulator) Interrupt() {
	if a.finished {
		return
	}
	a.finalizeOpenPart()
	a.turn.StopReason = message.StopReasonInterrupted
	a.finished = true
}

// Turn returns a deep copy of the turn folded so far.
func (a *Accumulator) Turn() message.Turn {
	return message.CloneTurns([]message.Turn{a.turn})[0]
}

// Started reports whether a start event was applied.
func (a *Accumulator) Started() bool { return a.started }

// Finished reports whether a terminal envelope was applied.
func (a *Accumulator) Finished() bool { return a.finished }

// LastSeq returns the highest sequence number applied.
func (a *Accumulator) LastSeq() uint64 { return a.lastSeq }

// openPart finalizes the current open part and appends a fresh one.
func (a *Accumulator) openPart(p message.Part, key string) {
	a.finalizeOpenPart()
	a.turn.Parts = append(a.turn.Parts, p)
	a.openIndex = len(a.turn.Parts) - 1
	a.openKey = key
}

// appendDelta accumulates content on the open part matching key, or
// opens one when no part is open for that key.
func (a *Accumulator) appendDelta(partType, key, delta string) {
	if a.openIndex < 0 || a.openKey != key || a.turn.Parts[a.openIndex].Type != partType {
		switch partType {
		case message.TypeReasoning:
			a.openPart(message.NewReasoningPart(""), key)
		default:
			a.openPart(message.NewTextPart(""), key)
		}
	}
	a.turn.Parts[a.openIndex].Text += delta
}

func (a *Accumulator) closeOpenPart(key string) {
	if a.openIndex < 0 || a.openKey != key {
		return
	}
	a.finalizeOpenPart()
}

func (a *Accumulator) finalizeOpenPart() {
	if a.openIndex < 0 {
		return
	}
	a.turn.Parts[a.openIndex].State = message.StateDone
	a.openIndex = -1
	a.openKey = ""
}

func (a *Accumulator) findToolPart(callID string) int {
	if callID == "" {
		return -1
	}
	for i := len(a.turn.Parts) - 1; i >= 0; i-- {
		if a.turn.Parts[i].IsTool() && a.turn.Parts[i].ToolCallID == callID {
			return i
		}
	}
	return -1
}

// advanceToolState applies a forward-only state transition.
func (a *Accumulator) advanceToolState(i int, state string) bool {
	if toolStateRank[state] <= toolStateRank[a.turn.Parts[i].State] {
		return false
	}
	a.turn.Parts[i].State = state
	return true
}
