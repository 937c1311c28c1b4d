package journal

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := Open(DefaultConfig(path))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func randomSig(t *testing.T) types.Signature {
	t.Helper()
	var sig types.Signature
	_, err := rand.Read(sig[:])
	require.NoError(t, err)
	return sig
}

func randomKey(t *testing.T) types.Pubkey {
	t.Helper()
	var k types.Pubkey
	_, err := rand.Read(k[:])
	require.NoError(t, err)
	return k
}

func TestAppendAndGet(t *testing.T) {
	store, _ := openTemp(t)
	payer := randomKey(t)

	r := &Receipt{
		Signature:    randomSig(t),
		Slot:         7,
		BlockTime:    1_700_000_000,
		ComputeUnits: 1234,
		Logs:         []string{"Program log: hello"},
		Accounts:     []types.Pubkey{payer},
	}
	require.NoError(t, store.Append(r))
	assert.Equal(t, uint64(1), r.Seq)
	assert.False(t, r.Hash == types.Hash{})
	assert.Equal(t, types.Hash{}, r.PrevHash)

	got, err := store.Get(r.Signature)
	require.NoError(t, err)
	assert.Equal(t, r, got)
	assert.True(t, got.Success())
	assert.True(t, store.Has(r.Signature))

	_, err = store.Get(randomSig(t))
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	assert.False(t, store.Has(randomSig(t)))
}

func TestAppendRejectsDuplicate(t *testing.T) {
	store, _ := openTemp(t)
	sig := randomSig(t)

	require.NoError(t, store.Append(&Receipt{Signature: sig}))
	err := store.Append(&Receipt{Signature: sig})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, uint64(1), store.Count())
}

func TestChainLinksReceipts(t *testing.T) {
	store, _ := openTemp(t)

	var prev types.Hash
	for i := 0; i < 5; i++ {
		r := &Receipt{Signature: randomSig(t), Slot: uint64(i)}
		if i == 2 {
			r.Err = "instruction 0 failed"
			r.ErrCode = 9
		}
		require.NoError(t, store.Append(r))
		assert.Equal(t, prev, r.PrevHash)
		prev = r.Hash
	}
	assert.Equal(t, prev, store.Head())

	n, err := store.Verify()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
}

func TestDigestCoversFields(t *testing.T) {
	base := Receipt{Signature: randomSig(t), Slot: 3, Logs: []string{"a", "b"}}
	h := Digest(&base)

	mutations := map[string]func(r *Receipt){
		"slot":     func(r *Receipt) { r.Slot++ },
		"err":      func(r *Receipt) { r.Err = "x" },
		"code":     func(r *Receipt) { r.ErrCode = 1 },
		"logs":     func(r *Receipt) { r.Logs = []string{"ab"} },
		"accounts": func(r *Receipt) { r.Accounts = []types.Pubkey{{1}} },
		"prev":     func(r *Receipt) { r.PrevHash = types.Hash{1} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := base
			mutate(&r)
			assert.NotEqual(t, h, Digest(&r))
		})
	}

	r := base
	r.Hash = types.Hash{9}
	assert.Equal(t, h, Digest(&r), "hash field is not covered")
}

func TestSignaturesForAddress(t *testing.T) {
	store, _ := openTemp(t)
	alice, bob := randomKey(t), randomKey(t)

	var aliceSigs []types.Signature
	for i := 0; i < 6; i++ {
		keys := []types.Pubkey{alice}
		if i%2 == 0 {
			keys = append(keys, bob, alice)
		}
		r := &Receipt{Signature: randomSig(t), Slot: uint64(i + 1), Accounts: keys}
		require.NoError(t, store.Append(r))
		aliceSigs = append(aliceSigs, r.Signature)
	}

	all, err := store.SignaturesForAddress(alice, 0, nil)
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i, info := range all {
		assert.Equal(t, aliceSigs[5-i], info.Signature, "newest first")
	}

	bobs, err := store.SignaturesForAddress(bob, 10, nil)
	require.NoError(t, err)
	require.Len(t, bobs, 3)
	assert.Equal(t, uint64(5), bobs[0].Slot)

	page, err := store.SignaturesForAddress(alice, 2, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
	next, err := store.SignaturesForAddress(alice, 2, &page[1].Signature)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, aliceSigs[3], next[0].Signature)
	assert.Equal(t, aliceSigs[2], next[1].Signature)

	none, err := store.SignaturesForAddress(randomKey(t), 10, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = store.SignaturesForAddress(alice, 10, &types.Signature{1})
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestReopenRestoresHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := Open(DefaultConfig(path))
	require.NoError(t, err)

	r := &Receipt{Signature: randomSig(t)}
	require.NoError(t, store.Append(r))
	require.NoError(t, store.Close())

	_, err = store.Get(r.Signature)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Append(&Receipt{Signature: randomSig(t)}), ErrClosed)

	reopened, err := Open(DefaultConfig(path))
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(1), reopened.Count())
	assert.Equal(t, r.Hash, reopened.Head())

	next := &Receipt{Signature: randomSig(t)}
	require.NoError(t, reopened.Append(next))
	assert.Equal(t, uint64(2), next.Seq)
	assert.Equal(t, r.Hash, next.PrevHash)

	stats, err := reopened.GetStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Count)
	assert.Positive(t, stats.DatabaseSize)
}
