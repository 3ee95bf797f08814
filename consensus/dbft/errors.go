package dbft

import (
	"errors"
	"fmt"

	"github.com/neva-network/gneva/common"
)

// Sentinel errors for conditions that carry no per-message detail.
var (
	ErrNoValidators       = errors.New("dbft: validator set is empty")
	ErrDuplicateValidator = errors.New("dbft: duplicate validator id")
	ErrMissingProposal    = errors.New("dbft: no proposal registered for this view")
)

// UnknownValidatorError rejects a message whose sender is not in the roster.
type UnknownValidatorError struct {
	Validator ValidatorID
}

func (e *UnknownValidatorError) Error() string {
	return fmt.Sprintf("dbft: unknown validator %d", e.Validator)
}

// InvalidSignatureError rejects a message that fails curve verification
// against the sender's roster public key.
type InvalidSignatureError struct {
	Validator ValidatorID
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("dbft: invalid signature from validator %d", e.Validator)
}

// ProposalMismatchError rejects a message declaring a proposal hash that
// conflicts with the one already recorded for this height and view.
type ProposalMismatchError struct {
	Expected common.Hash
	Actual   common.Hash
}

func (e *ProposalMismatchError) Error() string {
	return fmt.Sprintf("dbft: proposal mismatch: have %s want %s", e.Actual, e.Expected)
}

// MissingPrepareResponseError rejects a Commit from a validator that has
// not yet approved the proposal.
type MissingPrepareResponseError struct {
	Validator ValidatorID
}

func (e *MissingPrepareResponseError) Error() string {
	return fmt.Sprintf("dbft: commit from validator %d without prepare response", e.Validator)
}

// InvalidPrimaryError rejects a PrepareRequest sent by a validator other
// than the primary for the current height and view.
type InvalidPrimaryError struct {
	Expected ValidatorID
	Actual   ValidatorID
}

func (e *InvalidPrimaryError) Error() string {
	return fmt.Sprintf("dbft: prepare request from validator %d, primary is %d", e.Actual, e.Expected)
}

// InvalidViewError rejects a message from a view ahead of the current one.
type InvalidViewError struct {
	Expected ViewNumber
	Received ViewNumber
}

func (e *InvalidViewError) Error() string {
	return fmt.Sprintf("dbft: message view %d ahead of current view %d", e.Received, e.Expected)
}

// InvalidHeightError rejects a PrepareRequest whose declared height does
// not match the state's height.
type InvalidHeightError struct {
	Expected uint64
	Received uint64
}

func (e *InvalidHeightError) Error() string {
	return fmt.Sprintf("dbft: message height %d, consensus at height %d", e.Received, e.Expected)
}

// InvalidHeightTransitionError rejects a height advance that does not
// move forward.
type InvalidHeightTransitionError struct {
	Current   uint64
	Requested uint64
}

func (e *InvalidHeightTransitionError) Error() string {
	return fmt.Sprintf("dbft: cannot advance height from %d to %d", e.Current, e.Requested)
}

// SnapshotError wraps persistence failures: store backend errors, codec
// errors and roster mismatches discovered while restoring a snapshot. A
// load failure at boot is fatal for the node; there is no safe default.
type SnapshotError struct {
	Op  string
	Err error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("dbft: snapshot %s: %v", e.Op, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }
