// Package chatsync keeps client-side state in step with the store. Each
// engine renders from the local cache first, then attaches a live query and
// replaces its state with every full snapshot the query emits, writing the
// result back to the cache.
package chatsync

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotInitialized     = errors.New("engine is not initialized")
	ErrClosed             = errors.New("engine is closed")
	ErrDeleteNotConfirmed = errors.New("delete was not confirmed")
	ErrOutboxNotFound     = errors.New("no outgoing message with that client id")
	ErrNotRetryable       = errors.New("only failed messages can be retried or discarded")
	ErrNoUploader         = errors.New("no media uploader configured")
)

// EmptySnapshotPolicy decides what an engine does with a snapshot that holds
// no records. Query errors are never applied, whatever the policy.
type EmptySnapshotPolicy int

const (
	// EmptyDefault picks the engine's own default.
	EmptyDefault EmptySnapshotPolicy = iota
	// EmptyReplace applies an empty snapshot like any other.
	EmptyReplace
	// EmptyKeep ignores empty snapshots and keeps the current state.
	EmptyKeep
)

func (p EmptySnapshotPolicy) resolve(def EmptySnapshotPolicy) EmptySnapshotPolicy {
	if p == EmptyDefault {
		return def
	}
	return p
}

func (p EmptySnapshotPolicy) String() string {
	switch p {
	case EmptyReplace:
		return "replace"
	case EmptyKeep:
		return "keep"
	}
	return "default"
}

// Confirmer asks the user to approve an irreversible action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool {
	return f(ctx, prompt)
}

// Uploader stores an attachment and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, contentType string) (string, error)
}
