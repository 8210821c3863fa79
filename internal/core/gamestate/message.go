package gamestate

// Message is anything the network layer hands to the simulation goroutine:
// *Snapshot or *LeavePVS.
type Message interface {
	isInbound()
}

func (*Snapshot) isInbound() {}
func (*LeavePVS) isInbound() {}
