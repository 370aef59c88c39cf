// Package services holds the lifelog pipeline: the window manager that
// buffers inbound messages, the aggregation engine that turns a sealed
// window into a draft, the coordinator that publishes a draft exactly once,
// and the sweeper that drives them.
//
// This file centralizes service-level error values so that handlers can map
// them to HTTP results consistently.
package services

import "errors"

// Ingest errors.
var (
	// ErrInvalidMessage is returned when a message lacks its id or user id.
	ErrInvalidMessage = errors.New("message id and user id are required")

	// ErrInvalidKind is returned for a kind other than text, image, video or
	// audio.
	ErrInvalidKind = errors.New("invalid message kind")

	// ErrEmptyMessage is returned when a text message has no text or a media
	// message has no staged file.
	ErrEmptyMessage = errors.New("message is empty")
)

// Window and publish errors.
var (
	// ErrWindowNotFound indicates that the requested window does not exist.
	ErrWindowNotFound = errors.New("window not found")

	// ErrWindowNotSealed is returned when finalization is requested for a
	// window that is still collecting.
	ErrWindowNotSealed = errors.New("window is not sealed")

	// ErrFinalizeInProgress is returned when another caller owns the publish
	// of the window and has not recorded a result yet.
	ErrFinalizeInProgress = errors.New("finalize already in progress")

	// ErrNotPublished is returned when revising a window that has no
	// published article.
	ErrNotPublished = errors.New("window has no published article")

	// ErrTooManyMediaFailures is wrapped in a FatalCompose failure when more
	// media descriptions failed than the configured limit allows.
	ErrTooManyMediaFailures = errors.New("too many media analysis failures")
)
