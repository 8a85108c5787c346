package model

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is a configuration error: the download executable can't
	// be located. It is never retried.
	ErrToolNotFound = errors.New("download tool not found")
	// ErrJobActive is returned when an operation needs no job to be running.
	ErrJobActive = errors.New("a job is active")
	// ErrRelocationActive is returned when a job can't start during a move.
	ErrRelocationActive = errors.New("library relocation in progress")
)

// IntegrityError reports a copied file whose size differs from the source.
type IntegrityError struct {
	Path string
	Want int64
	Got  int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("size mismatch after copy: %s (want %d bytes, got %d)", e.Path, e.Want, e.Got)
}
