package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while one is active.
	ErrAlreadyRunning = errors.New("mirror run already in progress")
	// ErrTooLarge marks a download that exceeded its byte ceiling.
	ErrTooLarge = errors.New("media exceeds size limit")
	// ErrStopped is returned by pacing waits after a cooperative stop.
	ErrStopped = errors.New("run stopped")
)

// ConfigurationError collects every problem found while validating settings.
// It is fatal at startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config validation errors:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

// ProvisioningError means a source channel could not be given a destination.
// The source is skipped.
type ProvisioningError struct {
	Source string
	Stage  string // "channel" | "endpoint"
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision %s (%s): %v", e.Source, e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// DownloadReason classifies a failed media download.
type DownloadReason string

const (
	ReasonNetwork  DownloadReason = "network"
	ReasonTimeout  DownloadReason = "timeout"
	ReasonStatus   DownloadReason = "status"
	ReasonTooLarge DownloadReason = "too_large"
)

// DownloadError is a transient per-item failure. The item is dropped.
type DownloadError struct {
	URL        string
	Reason     DownloadReason
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: %s (HTTP %d): %v", e.URL, e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// DeliveryError means the replicated message was not accepted downstream.
type DeliveryError struct {
	ChannelID  string
	MessageID  string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver message %s to %s: HTTP %d: %v", e.MessageID, e.ChannelID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("deliver message %s to %s: %v", e.MessageID, e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PaginationError stops history retrieval; messages read so far are kept.
type PaginationError struct {
	ChannelID string
	Before    string
	Fetched   int
	Err       error
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("history %s before %q after %d messages: %v", e.ChannelID, e.Before, e.Fetched, e.Err)
}

func (e *PaginationError) Unwrap() error { return e.Err }
