package models

import "errors"

var (
	// ErrFileAccess indicates a missing or unreadable input file
	ErrFileAccess = errors.New("file access error")

	// ErrEmbeddingService indicates the remote embedding call failed
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrGeneration indicates the remote chat call failed
	ErrGeneration = errors.New("generation error")

	// ErrIndexLoad indicates a missing index or one built with another embedding model
	ErrIndexLoad = errors.New("index load error")

	ErrQuotaExceeded   = errors.New("query quota exceeded")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrBusy            = errors.New("a query is already in flight")
	ErrNoBookSelected  = errors.New("no book selected")
	ErrEmptyQuestion   = errors.New("empty question")
	ErrSessionNotFound = errors.New("session not found")
)
