package fundraiser

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
)

// ErrorCode identifies a fundraiser failure. Codes are stable and appear in
// transaction receipts and RPC errors.
type ErrorCode uint32

const (
	CodeNotSigner ErrorCode = iota + 1
	CodeAlreadyInitialized
	CodeUninitializedAccount
	CodeImmutableAccount
	CodeIllegalOwner
	CodeAddressMismatch
	CodeInvalidSeeds
	CodeMalformedRecord
	CodeMalformedInstruction
	CodeBelowMinimumContribution
	CodeContributionExceedsCap
	CodeCampaignExpired
	CodeInsufficientFunds
	CodeInsufficientRaise
	CodeUnknownInstruction
	CodeNotEnoughAccountKeys
	CodeInvalidDuration
	CodeGoalBelowMinimum
	CodeInvalidMint
	CodeMintMismatch
	CodeArithmeticOverflow
	CodeCampaignActive
	CodeGoalReached
	CodeTransferFailed
	CodeComputeBudgetExceeded
)

var codeNames = map[ErrorCode]string{
	CodeNotSigner:                "NotSigner",
	CodeAlreadyInitialized:       "AlreadyInitialized",
	CodeUninitializedAccount:     "UninitializedAccount",
	CodeImmutableAccount:         "ImmutableAccount",
	CodeIllegalOwner:             "IllegalOwner",
	CodeAddressMismatch:          "AddressMismatch",
	CodeInvalidSeeds:             "InvalidSeeds",
	CodeMalformedRecord:          "MalformedRecord",
	CodeMalformedInstruction:     "MalformedInstruction",
	CodeBelowMinimumContribution: "BelowMinimumContribution",
	CodeContributionExceedsCap:   "ContributionExceedsCap",
	CodeCampaignExpired:          "CampaignExpired",
	CodeInsufficientFunds:        "InsufficientFunds",
	CodeInsufficientRaise:        "InsufficientRaise",
	CodeUnknownInstruction:       "UnknownInstruction",
	CodeNotEnoughAccountKeys:     "NotEnoughAccountKeys",
	CodeInvalidDuration:          "InvalidDuration",
	CodeGoalBelowMinimum:         "GoalBelowMinimum",
	CodeInvalidMint:              "InvalidMint",
	CodeMintMismatch:             "MintMismatch",
	CodeArithmeticOverflow:       "ArithmeticOverflow",
	CodeCampaignActive:           "CampaignActive",
	CodeGoalReached:              "GoalReached",
	CodeTransferFailed:           "TransferFailed",
	CodeComputeBudgetExceeded:    "ComputeBudgetExceeded",
}

// String returns the code's name.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", uint32(c))
}

// ProgramError is the only error type the fundraiser program returns.
// errors.Is matches two ProgramErrors by Code alone, so the sentinels below
// can be compared against errors carrying a detail message or a cause.
type ProgramError struct {
	Code   ErrorCode
	Detail string
	Cause  error
}

// Sentinels for errors.Is.
var (
	ErrNotSigner                = &ProgramError{Code: CodeNotSigner}
	ErrAlreadyInitialized       = &ProgramError{Code: CodeAlreadyInitialized}
	ErrUninitializedAccount     = &ProgramError{Code: CodeUninitializedAccount}
	ErrImmutableAccount         = &ProgramError{Code: CodeImmutableAccount}
	ErrIllegalOwner             = &ProgramError{Code: CodeIllegalOwner}
	ErrAddressMismatch          = &ProgramError{Code: CodeAddressMismatch}
	ErrInvalidSeeds             = &ProgramError{Code: CodeInvalidSeeds}
	ErrMalformedRecord          = &ProgramError{Code: CodeMalformedRecord}
	ErrMalformedInstruction     = &ProgramError{Code: CodeMalformedInstruction}
	ErrBelowMinimumContribution = &ProgramError{Code: CodeBelowMinimumContribution}
	ErrContributionExceedsCap   = &ProgramError{Code: CodeContributionExceedsCap}
	ErrCampaignExpired          = &ProgramError{Code: CodeCampaignExpired}
	ErrInsufficientFunds        = &ProgramError{Code: CodeInsufficientFunds}
	ErrInsufficientRaise        = &ProgramError{Code: CodeInsufficientRaise}
	ErrUnknownInstruction       = &ProgramError{Code: CodeUnknownInstruction}
	ErrNotEnoughAccountKeys     = &ProgramError{Code: CodeNotEnoughAccountKeys}
	ErrInvalidDuration          = &ProgramError{Code: CodeInvalidDuration}
	ErrGoalBelowMinimum         = &ProgramError{Code: CodeGoalBelowMinimum}
	ErrInvalidMint              = &ProgramError{Code: CodeInvalidMint}
	ErrMintMismatch             = &ProgramError{Code: CodeMintMismatch}
	ErrArithmeticOverflow       = &ProgramError{Code: CodeArithmeticOverflow}
	ErrCampaignActive           = &ProgramError{Code: CodeCampaignActive}
	ErrGoalReached              = &ProgramError{Code: CodeGoalReached}
	ErrTransferFailed           = &ProgramError{Code: CodeTransferFailed}
	ErrComputeBudgetExceeded    = &ProgramError{Code: CodeComputeBudgetExceeded}
)

// Name returns the symbolic name of the error's code.
func (e *ProgramError) Name() string {
	return e.Code.String()
}

// ProgramCode returns the numeric error code.
func (e *ProgramError) ProgramCode() uint32 {
	return uint32(e.Code)
}

func (e *ProgramError) Error() string {
	msg := fmt.Sprintf("fundraiser error %d (%s)", uint32(e.Code), e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProgramError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ProgramError with the same code.
func (e *ProgramError) Is(target error) bool {
	t, ok := target.(*ProgramError)
	return ok && t.Code == e.Code
}

// newError returns a ProgramError with a formatted detail message.
func newError(code ErrorCode, format string, args ...any) *ProgramError {
	return &ProgramError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// wrapError returns a ProgramError that keeps cause in the chain. Running
// out of compute is always reported as ComputeBudgetExceeded.
func wrapError(code ErrorCode, cause error, detail string) *ProgramError {
	if errors.Is(cause, invoke.ErrComputeExceeded) {
		code = CodeComputeBudgetExceeded
	}
	return &ProgramError{Code: code, Detail: detail, Cause: cause}
}

// AsProgramError finds the ProgramError in err's chain.
func AsProgramError(err error) (*ProgramError, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
