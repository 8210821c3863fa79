package world

import "github.com/zeusync/statesync/internal/core/protocol"

// RegisterComponents makes the built-in components decodable from the wire.
func RegisterComponents(r *protocol.Registry) {
	protocol.RegisterFull[Metadata](r, MetadataID)
	protocol.RegisterFull[Position](r, PositionID)
	protocol.RegisterDelta[PositionDelta](r, PositionID)
	protocol.RegisterFull[Velocity](r, VelocityID)
}
