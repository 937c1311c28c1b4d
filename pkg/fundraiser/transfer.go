package fundraiser

import (
	"errors"

	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/token"
)

// createAccount allocates space bytes at acc for this program, funded with
// the rent-exempt minimum by payer. signer proves acc is a program address.
func createAccount(ctx invoke.Context, payer, acc *invoke.AccountInfo, space uint64, signer pda.Seeds) error {
	if err := system.CreateProgramAccount(ctx, payer, acc, space, ctx.ProgramID(), signer); err != nil {
		return mapInvokeError(err, "create "+acc.Key.String())
	}
	return nil
}

// transferTokens moves amount of mint from source to destination under
// authority. Program-owned authorities pass their seeds in signers.
func transferTokens(ctx invoke.Context, source, mint, destination, authority *invoke.AccountInfo, amount uint64, decimals uint8, signers ...pda.Seeds) error {
	ix := token.TransferChecked(source.Key, mint.Key, destination.Key, authority.Key, amount, decimals)
	if err := ctx.Invoke(ix, signers...); err != nil {
		return mapInvokeError(err, "transfer")
	}
	return nil
}

// closeTokenAccount closes an emptied token account, sending its rent to
// destination.
func closeTokenAccount(ctx invoke.Context, acc, destination, authority *invoke.AccountInfo, signers ...pda.Seeds) error {
	ix := token.CloseAccount(acc.Key, destination.Key, authority.Key)
	if err := ctx.Invoke(ix, signers...); err != nil {
		return mapInvokeError(err, "close "+acc.Key.String())
	}
	return nil
}

// mapInvokeError turns a failed cross-program call into a ProgramError,
// keeping the callee's error as the cause.
func mapInvokeError(err error, detail string) error {
	if _, ok := AsProgramError(err); ok {
		return err
	}
	code := CodeTransferFailed
	switch {
	case errors.Is(err, token.ErrInsufficientFunds), errors.Is(err, invoke.ErrInsufficientFunds):
		code = CodeInsufficientFunds
	case errors.Is(err, token.ErrMintMismatch):
		code = CodeMintMismatch
	case errors.Is(err, token.ErrInvalidMint), errors.Is(err, token.ErrMintDecimalsMismatch):
		code = CodeInvalidMint
	case errors.Is(err, invoke.ErrArithmeticOverflow):
		code = CodeArithmeticOverflow
	case errors.Is(err, invoke.ErrAccountAlreadyInUse), errors.Is(err, token.ErrAlreadyInUse):
		code = CodeAlreadyInitialized
	case errors.Is(err, invoke.ErrMissingRequiredSignature):
		code = CodeNotSigner
	}
	return wrapError(code, err, detail)
}
