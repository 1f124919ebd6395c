// Package domain provides shared domain-level sentinel errors.
//
// Components wrap these with fmt.Errorf("...: %w", ...) so callers can
// classify a failure with errors.Is without depending on the adapter that
// produced it.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates malformed caller input.
var ErrValidation = errors.New("validation failed")

// ErrConfig indicates missing or malformed setup, such as an absent session package.
var ErrConfig = errors.New("configuration error")

// ErrSigning indicates the signer is unavailable or rejected the request.
var ErrSigning = errors.New("signing error")

// ErrEncoding indicates a malformed delegation or execution shape.
var ErrEncoding = errors.New("encoding error")

// ErrChainRead indicates a read-only contract call failed, including its timeout.
var ErrChainRead = errors.New("chain read error")

// ErrSubmission indicates the bundler rejected or failed a user-operation.
var ErrSubmission = errors.New("submission error")
