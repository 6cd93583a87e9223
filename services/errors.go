package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrEmptyToken       = errors.New("empty token")
	ErrDuplicateToken   = errors.New("token already mapped to another substance")
	ErrInvalidPair      = errors.New("invalid substance pair")
	ErrRunInProgress    = errors.New("ingestion run already in progress")
	ErrInvalidBatchSize = errors.New("batch size out of range")
)

// ErrorKind klassifiziert Pipeline-Fehler für Exit-Codes und HTTP-Status.
type ErrorKind string

const (
	KindUsage        ErrorKind = "usage"
	KindValidation   ErrorKind = "validation"
	KindStorage      ErrorKind = "storage"
	KindVerification ErrorKind = "verification"
)

// Exit-Codes der Ingestion.
const (
	ExitOK           = 0
	ExitValidation   = 1
	ExitStorage      = 2
	ExitVerification = 3
	ExitUsage        = 4
)

// PipelineError trägt die Fehlerklasse und, falls vorhanden, den vollständigen Bericht.
type PipelineError struct {
	Kind   ErrorKind
	Stage  string
	Err    error
	Report any
}

func (e *PipelineError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ExitCode bildet die Fehlerklasse auf den Exit-Code der Kommandozeile ab.
func (e *PipelineError) ExitCode() int {
	switch e.Kind {
	case KindUsage:
		return ExitUsage
	case KindValidation:
		return ExitValidation
	case KindVerification:
		return ExitVerification
	default:
		return ExitStorage
	}
}

func pipelineErr(kind ErrorKind, stage string, err error, report any) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err, Report: report}
}

// ExitCodeFor liefert den Exit-Code für einen beliebigen Fehler; nil ergibt 0.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.ExitCode()
	}
	if errors.Is(err, ErrInvalidBatchSize) {
		return ExitUsage
	}
	return ExitStorage
}
