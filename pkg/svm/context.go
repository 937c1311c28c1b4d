package svm

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
)

// txContext is the state shared by every invocation of one transaction.
type txContext struct {
	rt       *Runtime
	accounts map[types.Pubkey]*accounts.Account
	meter    *ComputeMeter
	clock    invoke.Clock
	logs     []string
	stack    []types.Pubkey
}

func (tc *txContext) logf(format string, args ...any) {
	tc.logs = append(tc.logs, fmt.Sprintf(format, args...))
}

// frame is one program invocation. It implements invoke.Context.
type frame struct {
	tc        *txContext
	programID types.Pubkey
	infos     []*invoke.AccountInfo
	pre       map[types.Pubkey]accountState
}

// accountState is the checkpoint an invocation's changes are verified
// against.
type accountState struct {
	lamports   uint64
	owner      types.Pubkey
	executable bool
	data       []byte
}

var _ invoke.Context = (*frame)(nil)

// process runs ix as a new invocation. caller is nil for top-level
// instructions; pdaSigners lists the addresses the caller signed for.
func (tc *txContext) process(ix invoke.Instruction, caller *frame, pdaSigners map[types.Pubkey]bool) error {
	program, ok := tc.rt.programs[ix.ProgramID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, ix.ProgramID)
	}
	if len(tc.stack) > CPIDepthMax {
		return ErrCallDepth
	}
	// A program may call itself directly but not through another program.
	if n := len(tc.stack); n > 0 && tc.stack[n-1] != ix.ProgramID {
		for _, id := range tc.stack {
			if id == ix.ProgramID {
				return fmt.Errorf("%w: %s", ErrReentrancy, ix.ProgramID)
			}
		}
	}

	f := &frame{
		tc:        tc,
		programID: ix.ProgramID,
		infos:     make([]*invoke.AccountInfo, len(ix.Accounts)),
	}
	for i, meta := range ix.Accounts {
		if caller != nil {
			if err := caller.authorize(meta, pdaSigners); err != nil {
				return err
			}
		}
		acc, ok := tc.accounts[meta.Pubkey]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.Pubkey)
		}
		f.infos[i] = &invoke.AccountInfo{
			Key:        meta.Pubkey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			Account:    acc,
		}
	}
	f.checkpoint()

	tc.stack = append(tc.stack, ix.ProgramID)
	depth := len(tc.stack)
	tc.logf("Program %s invoke [%d]", ix.ProgramID, depth)
	err := program.Process(f, f.infos, ix.Data)
	tc.stack = tc.stack[:depth-1]
	if err == nil {
		err = f.verify()
	}
	if err != nil {
		tc.logf("Program %s failed: %v", ix.ProgramID, err)
		return err
	}
	tc.logf("Program %s success", ix.ProgramID)
	return nil
}

// authorize checks that the caller holds every privilege meta asks for.
func (f *frame) authorize(meta invoke.AccountMeta, pdaSigners map[types.Pubkey]bool) error {
	var found, signer, writable bool
	for _, info := range f.infos {
		if info.Key != meta.Pubkey {
			continue
		}
		found = true
		signer = signer || info.IsSigner
		writable = writable || info.IsWritable
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrMissingAccount, meta.Pubkey)
	}
	if meta.IsWritable && !writable {
		return fmt.Errorf("%w: %s is not writable", ErrPrivilegeEscalation, meta.Pubkey)
	}
	if meta.IsSigner && !signer && !pdaSigners[meta.Pubkey] {
		return fmt.Errorf("%w: %s is not a signer", ErrPrivilegeEscalation, meta.Pubkey)
	}
	return nil
}

func (f *frame) checkpoint() {
	f.pre = make(map[types.Pubkey]accountState, len(f.infos))
	for _, info := range f.infos {
		if _, ok := f.pre[info.Key]; ok {
			continue
		}
		f.pre[info.Key] = accountState{
			lamports:   info.Lamports,
			owner:      info.Owner,
			executable: info.Executable,
			data:       bytes.Clone(info.Data),
		}
	}
}

// verify checks the invocation's changes since the last checkpoint against
// the ownership rules and conservation of lamports.
func (f *frame) verify() error {
	var preHi, preLo, postHi, postLo uint64
	writable := make(map[types.Pubkey]bool, len(f.infos))
	for _, info := range f.infos {
		writable[info.Key] = writable[info.Key] || info.IsWritable
	}

	seen := make(map[types.Pubkey]bool, len(f.infos))
	for _, info := range f.infos {
		if seen[info.Key] {
			continue
		}
		seen[info.Key] = true
		pre := f.pre[info.Key]

		lamportsChanged := pre.lamports != info.Lamports
		ownerChanged := pre.owner != info.Owner
		dataChanged := !bytes.Equal(pre.data, info.Data)
		changed := lamportsChanged || ownerChanged || dataChanged || pre.executable != info.Executable

		if changed && pre.executable {
			return fmt.Errorf("%w: %s", ErrExecutableModified, info.Key)
		}
		if pre.executable != info.Executable {
			return fmt.Errorf("%w: %s", ErrExecutableModified, info.Key)
		}
		if changed && !writable[info.Key] {
			return fmt.Errorf("%w: %s", ErrReadonlyModified, info.Key)
		}
		if ownerChanged && (pre.owner != f.programID || !isZeroed(info.Data)) {
			return fmt.Errorf("%w: %s", ErrModifiedProgramID, info.Key)
		}
		if dataChanged && pre.owner != f.programID {
			return fmt.Errorf("%w: %s", ErrExternalAccountDataModified, info.Key)
		}
		if info.Lamports < pre.lamports && pre.owner != f.programID {
			return fmt.Errorf("%w: %s", ErrExternalLamportSpend, info.Key)
		}

		var c uint64
		preLo, c = bits.Add64(preLo, pre.lamports, 0)
		preHi += c
		postLo, c = bits.Add64(postLo, info.Lamports, 0)
		postHi += c
	}
	if preHi != postHi || preLo != postLo {
		return ErrUnbalancedInstruction
	}
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

func (f *frame) ProgramID() types.Pubkey {
	return f.programID
}

func (f *frame) Clock() invoke.Clock {
	return f.tc.clock
}

func (f *frame) Rent() invoke.Rent {
	return f.tc.rt.cfg.Rent
}

func (f *frame) Log(format string, args ...any) {
	f.tc.logf("Program log: "+format, args...)
}

func (f *frame) ConsumeCompute(units uint64) error {
	return f.tc.meter.Consume(units)
}

// FindProgramAddress charges for every bump it tries.
func (f *frame) FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	addr, bump, err := pda.FindProgramAddress(seeds, programID)
	attempts := uint64(256)
	if err == nil {
		attempts = 256 - uint64(bump)
	}
	if cerr := f.tc.meter.Consume(attempts * CUCreateProgramAddress); cerr != nil {
		return types.Pubkey{}, 0, cerr
	}
	return addr, bump, err
}

// Invoke runs ix as a nested invocation. The caller's changes so far are
// verified before the callee runs, and the caller's checkpoint is reset
// once it returns so the callee's changes are not attributed to it.
func (f *frame) Invoke(ix invoke.Instruction, signers ...pda.Seeds) error {
	if err := f.tc.meter.Consume(CUInvokeBase); err != nil {
		return err
	}

	pdaSigners := make(map[types.Pubkey]bool, len(signers))
	for _, s := range signers {
		if err := f.tc.meter.Consume(CUCreateProgramAddress); err != nil {
			return err
		}
		addr, err := s.Address(f.programID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignerSeeds, err)
		}
		pdaSigners[addr] = true
	}

	if err := f.verify(); err != nil {
		return err
	}
	if err := f.tc.process(ix, f, pdaSigners); err != nil {
		return err
	}
	f.checkpoint()
	return nil
}
