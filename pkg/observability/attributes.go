package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Registry semantic convention attributes.
var (
	AttrActorID     = attribute.Key("registry.actor.id")
	AttrMemberPalo  = attribute.Key("registry.member.palo")
	AttrMemberState = attribute.Key("registry.member.status")
	AttrArchiveID   = attribute.Key("registry.archive.id")
)

// ArchiveOperation creates attributes for moving a member into the archive.
func ArchiveOperation(actorID string, palo int, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrActorID.String(actorID),
		AttrMemberPalo.Int(palo),
		AttrMemberState.String(status),
	}
}

// RestoreOperation creates attributes for restoring an archived member.
func RestoreOperation(actorID, archiveID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrActorID.String(actorID),
		AttrArchiveID.String(archiveID),
	}
}
