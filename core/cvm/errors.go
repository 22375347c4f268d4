// Package cvm implements the Code Virtual Machine: a deterministic state
// machine that multiplexes many virtual token accounts inside a handful of
// fixed-size physical memory buffers.
package cvm

import (
	"errors"

	"synnergy-network/pkg/utils"
)

// Sentinel error kinds. Call sites compare against these with errors.Is;
// every rejection path wraps one of them with utils.Wrap so a human-readable
// context string travels alongside the kind.
var (
	ErrInvalidAccountData = errors.New("cvm: invalid account data")
	ErrInsufficientFunds  = errors.New("cvm: insufficient funds")
	ErrInvalidArgument    = errors.New("cvm: invalid argument")
	ErrInvalidSignature   = errors.New("cvm: invalid signature")
	ErrArithmeticOverflow = errors.New("cvm: arithmetic overflow")
	ErrAlreadyExists      = errors.New("cvm: already exists")
	ErrNotFound           = errors.New("cvm: not found")
	ErrMerkleProofInvalid = errors.New("cvm: invalid merkle proof")
	ErrTreeFull           = errors.New("cvm: merkle tree is full")
	ErrUnauthorized       = errors.New("cvm: unauthorized")
	ErrIndexOutOfBounds   = errors.New("cvm: index out of bounds")
	ErrInvalidState       = errors.New("cvm: invalid state")
)

func invalidAccountData(msg string) error { return utils.Wrap(ErrInvalidAccountData, msg) }
func insufficientFunds(msg string) error  { return utils.Wrap(ErrInsufficientFunds, msg) }
func invalidArgument(msg string) error    { return utils.Wrap(ErrInvalidArgument, msg) }
func invalidSignature(msg string) error   { return utils.Wrap(ErrInvalidSignature, msg) }
func arithmeticOverflow(msg string) error { return utils.Wrap(ErrArithmeticOverflow, msg) }
func alreadyExists(msg string) error      { return utils.Wrap(ErrAlreadyExists, msg) }
func notFound(msg string) error           { return utils.Wrap(ErrNotFound, msg) }
func merkleProofInvalid(msg string) error { return utils.Wrap(ErrMerkleProofInvalid, msg) }
func treeFull(msg string) error           { return utils.Wrap(ErrTreeFull, msg) }
func unauthorized(msg string) error       { return utils.Wrap(ErrUnauthorized, msg) }
func indexOutOfBounds(msg string) error   { return utils.Wrap(ErrIndexOutOfBounds, msg) }
func invalidState(msg string) error       { return utils.Wrap(ErrInvalidState, msg) }
