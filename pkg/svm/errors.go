package svm

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureVerificationFailed is returned when a signature is missing
	// or does not verify against the message.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")

	// ErrMalformedTransaction is returned when a transaction fails to decode
	// or sanitize.
	ErrMalformedTransaction = errors.New("malformed transaction")

	// ErrAlreadyProcessed is returned for a signature the runtime has
	// already executed.
	ErrAlreadyProcessed = errors.New("transaction already processed")

	// ErrProgramNotFound is returned when an instruction targets an
	// unregistered program.
	ErrProgramNotFound = errors.New("program not found")

	// ErrMissingAccount is returned when a cross-program call references an
	// account its caller was not given.
	ErrMissingAccount = errors.New("instruction references an account not available to the caller")

	// ErrPrivilegeEscalation is returned when a cross-program call asks for
	// signer or writable privileges the caller does not hold.
	ErrPrivilegeEscalation = errors.New("cross-program invocation with unauthorized signer or writable account")

	// ErrInvalidSignerSeeds is returned when signer seeds fail to derive.
	ErrInvalidSignerSeeds = errors.New("invalid signer seeds")

	// ErrCallDepth is returned when cross-program calls nest too deeply.
	ErrCallDepth = errors.New("cross-program invocation call depth too deep")

	// ErrReentrancy is returned when a program is re-entered indirectly.
	ErrReentrancy = errors.New("cross-program invocation reentrancy not allowed")

	// ErrReadonlyModified is returned when a read-only account changed.
	ErrReadonlyModified = errors.New("instruction modified a read-only account")

	// ErrExternalAccountDataModified is returned when a program changed the
	// data of an account it does not own.
	ErrExternalAccountDataModified = errors.New("instruction modified data of an account it does not own")

	// ErrExternalLamportSpend is returned when a program debited an account
	// it does not own.
	ErrExternalLamportSpend = errors.New("instruction spent from the balance of an account it does not own")

	// ErrModifiedProgramID is returned when an account's owner changed
	// illegally.
	ErrModifiedProgramID = errors.New("instruction illegally modified the program id of an account")

	// ErrExecutableModified is returned when an executable account changed.
	ErrExecutableModified = errors.New("instruction changed an executable account")

	// ErrUnbalancedInstruction is returned when lamports were created or
	// destroyed.
	ErrUnbalancedInstruction = errors.New("sum of account balances before and after instruction do not match")

	// ErrInsufficientFundsForRent is returned when a committed account with
	// data is below its rent-exempt minimum.
	ErrInsufficientFundsForRent = errors.New("account has insufficient funds for rent")
)

// InstructionError reports which top-level instruction failed.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d failed: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}
