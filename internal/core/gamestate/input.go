package gamestate

// InputCommand is one client input, replayed during prediction until the server
// confirms it processed Sequence.
type InputCommand struct {
	Sequence uint32
	Tick     Tick
	SubTick  uint16
	Function uint32
	Pressed  bool
	Target   EntityID
}

// PendingMessage is a client-issued system message, replayed during prediction
// like an input.
type PendingMessage struct {
	Sequence uint32
	Tick     Tick
	Message  any
}
