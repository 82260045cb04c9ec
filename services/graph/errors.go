package graph

import "errors"

// Sentinel errors returned by graph mutations. Callers match with errors.Is.
var (
	ErrDuplicateSingletonNode   = errors.New("graph already has a node of this kind")
	ErrUnknownKind              = errors.New("unknown node kind")
	ErrNodeNotFound             = errors.New("node not found")
	ErrEdgeNotFound             = errors.New("edge not found")
	ErrImmutableNode            = errors.New("node is immutable")
	ErrExplicitDeletionRequired = errors.New("select the edges to delete explicitly")
	ErrEmptyLabel               = errors.New("label cannot be empty")
	ErrInvalidLabel             = errors.New("label may only contain letters, digits, '_' and '-'")
	ErrReservedLabel            = errors.New("label is reserved")
	ErrDuplicateLabel           = errors.New("label is already used by another node")
	ErrToolsConflict            = errors.New("dynamic tools cannot be combined with an explicit tool list")
	ErrMetadataMismatch         = errors.New("metadata does not match node kind")
	ErrInvalidDocument          = errors.New("invalid agent document")
)
