package models

import (
	"fmt"
	"strings"
)

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// ConfigurationError reports a missing or invalid setting. It is raised
// before any I/O happens.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// IsTransient returns false as configuration errors need operator action
func (e *ConfigurationError) IsTransient() bool {
	return false
}

// ConfigurationErrors aggregates every problem found in one validation pass
type ConfigurationErrors []*ConfigurationError

func (e ConfigurationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.Is / errors.As
func (e ConfigurationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

// CredentialResolutionError wraps a failure of the credential store
type CredentialResolutionError struct {
	Server string
	Err    error
}

func (e *CredentialResolutionError) Error() string {
	return fmt.Sprintf("resolve credentials for %q: %v", e.Server, e.Err)
}

func (e *CredentialResolutionError) Unwrap() error {
	return e.Err
}

// IsTransient returns false; a missing credential entry does not fix itself
func (e *CredentialResolutionError) IsTransient() bool {
	return false
}

// PipelineInvariantError reports that both the ancillary and the destination
// file exist while fetching, a state the pipeline never produces itself.
type PipelineInvariantError struct {
	Variable      string
	TimeStep      string
	AncillaryPath string
	DestPath      string
}

func (e *PipelineInvariantError) Error() string {
	return fmt.Sprintf("pipeline invariant violated for %s at %s: ancillary %q and destination %q both exist",
		e.Variable, e.TimeStep, e.AncillaryPath, e.DestPath)
}

// IsTransient returns false; the run is aborted and never retried
func (e *PipelineInvariantError) IsTransient() bool {
	return false
}
