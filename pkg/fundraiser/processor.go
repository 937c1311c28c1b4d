package fundraiser

import (
	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
)

// Processor dispatches fundraiser instructions.
type Processor struct{}

// NewProcessor creates a new fundraiser processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ID returns the fundraiser program address.
func (p *Processor) ID() types.Pubkey {
	return ProgramID
}

// Process routes data to its handler by the leading discriminator. Every
// failure is returned as a *ProgramError.
func (p *Processor) Process(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if err := ctx.ConsumeCompute(CUDefault); err != nil {
		return wrapError(CodeComputeBudgetExceeded, err, "compute budget")
	}
	if len(data) == 0 {
		return newError(CodeMalformedInstruction, "empty instruction data")
	}

	d := Discriminator(data[0])
	ctx.Log("Instruction: %s (%d bytes)", d, len(data))

	var err error
	switch d {
	case DiscriminatorInitialize:
		err = processInitialize(ctx, accts, data[1:])
	case DiscriminatorContribute:
		err = processContribute(ctx, accts, data[1:])
	case DiscriminatorRefund:
		err = processRefund(ctx, accts, data[1:])
	case DiscriminatorFinalize:
		err = processFinalize(ctx, accts, data[1:])
	default:
		return newError(CodeUnknownInstruction, "unknown discriminator %d", data[0])
	}
	if err == nil {
		return nil
	}
	return mapInvokeError(err, d.String())
}
