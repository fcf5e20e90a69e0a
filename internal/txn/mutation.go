package txn

import (
	"github.com/roach88/livedb/internal/ir"
)

// MutationType is the kind of a pending mutation.
type MutationType string

const (
	MutationInsert MutationType = "insert"
	MutationUpdate MutationType = "update"
	MutationDelete MutationType = "delete"
)

// Participant is a collection taking part in a transaction.
type Participant interface {
	// ParticipantID identifies the collection. It prefixes global keys.
	ParticipantID() string

	// OnTransactionStateChange is called after every state transition of a
	// transaction holding mutations for this participant. It runs without
	// any transaction lock held.
	OnTransactionStateChange(tx *Transaction)
}

// Mutation is one pending row change.
type Mutation struct {
	MutationID string
	Type       MutationType

	// Key is the row key within its collection.
	Key ir.Key

	// GlobalKey is unique across collections: "<participant>:<key>".
	GlobalKey string

	// Original is the row before the mutation (empty for inserts).
	Original ir.IRObject

	// Modified is the row after the mutation (the deleted row for deletes).
	Modified ir.IRObject

	// Changes holds the fields written: the whole row for inserts, the
	// changed fields for updates.
	Changes ir.IRObject

	Metadata ir.IRObject

	Participant Participant
}

// GlobalKey builds the cross-collection identity of a row.
func GlobalKey(participantID string, key ir.Key) string {
	return participantID + ":" + ir.KeyString(key)
}

// mergeMutations folds incoming into existing for the same global key.
// A nil result means both cancel out.
func mergeMutations(existing, incoming *Mutation) *Mutation {
	switch existing.Type {
	case MutationInsert:
		switch incoming.Type {
		case MutationUpdate:
			merged := *incoming
			merged.Type = MutationInsert
			merged.Original = ir.IRObject{}
			merged.Changes = existing.Changes.Merge(incoming.Changes)
			merged.Metadata = pickMetadata(existing, incoming)
			return &merged
		case MutationDelete:
			return nil
		}

	case MutationUpdate:
		switch incoming.Type {
		case MutationUpdate:
			merged := *incoming
			merged.Original = existing.Original
			merged.Changes = existing.Changes.Merge(incoming.Changes)
			merged.Metadata = pickMetadata(existing, incoming)
			return &merged
		case MutationDelete:
			return incoming
		}

	case MutationDelete:
		if incoming.Type == MutationInsert {
			merged := *incoming
			merged.Type = MutationUpdate
			merged.Original = existing.Original
			merged.Metadata = pickMetadata(existing, incoming)
			return &merged
		}
	}

	// Same type: latest wins.
	return incoming
}

func pickMetadata(existing, incoming *Mutation) ir.IRObject {
	if incoming.Metadata != nil {
		return incoming.Metadata
	}
	return existing.Metadata
}
