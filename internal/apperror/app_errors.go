package apperror

import "errors"

var (
	ErrIllegalMove             = errors.New("illegal move")
	ErrSessionFinished         = errors.New("session is already finished")
	ErrChannelOccupied         = errors.New("channel slot is already occupied")
	ErrSpawnDependencyMismatch = errors.New("spawn dependency has the wrong type")
	ErrDocumentNotFound        = errors.New("document not found")
	ErrDocumentAlreadyExists   = errors.New("document already exists")
)
