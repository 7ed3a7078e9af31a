package types

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/wire"
)

func newTestTx() *Transaction {
	return &Transaction{
		Nonce:           12345,
		SystemFee:       100,
		NetworkFee:      200,
		ValidUntilBlock: 1000,
		Signers: []Signer{
			{Account: common.Uint160{1}, Scopes: ScopeCalledByEntry},
			{Account: common.Uint160{2}, Scopes: ScopeGlobal},
		},
		Script:  []byte{0x40}, // RET
		Scripts: []Witness{{}, {}},
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := newTestTx()
	tx.Attributes = []Attribute{
		{Type: HighPriorityT},
		{Type: ConflictsT, Conflict: common.Uint256{9}},
		{Type: ConflictsT, Conflict: common.Uint256{8}},
	}
	data, err := wire.ToBytes(tx)
	require.NoError(t, err)

	got, err := NewTransactionFromBytes(data)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), got.Hash())
	require.Equal(t, tx.Signers, got.Signers)
	require.Equal(t, tx.Attributes, got.Attributes)
	require.Equal(t, len(data), got.Size())
	require.Equal(t, []common.Uint256{{9}, {8}}, got.Conflicts())
}

func TestTransactionHashExcludesWitnesses(t *testing.T) {
	tx := newTestTx()
	h := tx.Hash()

	tx2 := newTestTx()
	tx2.Scripts = []Witness{
		{InvocationScript: []byte{1, 2, 3}, VerificationScript: []byte{4}},
		{},
	}
	require.Equal(t, h, tx2.Hash())

	tx3 := newTestTx()
	tx3.Nonce++
	require.NotEqual(t, h, tx3.Hash())
}

func TestTransactionDecodeRejects(t *testing.T) {
	encode := func(mutate func(*Transaction)) []byte {
		tx := newTestTx()
		mutate(tx)
		data, err := wire.ToBytes(tx)
		require.NoError(t, err)
		return data
	}

	// Empty script.
	_, err := NewTransactionFromBytes(encode(func(tx *Transaction) { tx.Script = nil }))
	require.ErrorIs(t, err, ErrEmptyScript)

	// Duplicate signer.
	_, err = NewTransactionFromBytes(encode(func(tx *Transaction) {
		tx.Signers[1].Account = tx.Signers[0].Account
	}))
	require.ErrorIs(t, err, ErrDuplicateSigner)

	// Witness count mismatch.
	_, err = NewTransactionFromBytes(encode(func(tx *Transaction) { tx.Scripts = tx.Scripts[:1] }))
	require.ErrorIs(t, err, ErrWitnessCount)

	// Duplicate non-repeatable attribute.
	_, err = NewTransactionFromBytes(encode(func(tx *Transaction) {
		tx.Attributes = []Attribute{{Type: HighPriorityT}, {Type: HighPriorityT}}
	}))
	require.ErrorIs(t, err, ErrDuplicateAttribute)
}

func TestSignerScopeValidation(t *testing.T) {
	s := Signer{Account: common.Uint160{1}, Scopes: ScopeGlobal | ScopeCalledByEntry}
	data, err := wire.ToBytes(&s)
	require.NoError(t, err)
	var got Signer
	require.ErrorIs(t, wire.FromBytes(data, &got), ErrInvalidScope)
}

func TestWitnessRuleDepth(t *testing.T) {
	nest := func(depth int) WitnessCondition {
		c := WitnessCondition{Type: WitnessBoolean, Bool: true}
		for i := 0; i < depth; i++ {
			c = WitnessCondition{Type: WitnessNot, Conditions: []WitnessCondition{c}}
		}
		return c
	}

	// Three levels round-trip.
	ok := WitnessRule{Action: WitnessAllow, Condition: nest(2)}
	data, err := wire.ToBytes(&ok)
	require.NoError(t, err)
	var got WitnessRule
	require.NoError(t, wire.FromBytes(data, &got))

	// Four levels are refused on decode.
	deep := WitnessRule{Action: WitnessAllow, Condition: nest(3)}
	data, err = wire.ToBytes(&deep)
	require.NoError(t, err)
	require.ErrorIs(t, wire.FromBytes(data, &got), ErrRuleTooDeep)
}

func TestWitnessCompositeWidth(t *testing.T) {
	wide := WitnessCondition{Type: WitnessAnd}
	for i := 0; i < 17; i++ {
		wide.Conditions = append(wide.Conditions, WitnessCondition{Type: WitnessBoolean, Bool: true})
	}
	rule := WitnessRule{Action: WitnessAllow, Condition: wide}
	data, err := wire.ToBytes(&rule)
	require.NoError(t, err)
	var got WitnessRule
	require.ErrorIs(t, wire.FromBytes(data, &got), ErrRuleTooWide)

	// Sixteen items are fine.
	rule.Condition.Conditions = rule.Condition.Conditions[:16]
	data, err = wire.ToBytes(&rule)
	require.NoError(t, err)
	require.NoError(t, wire.FromBytes(data, &got))
	require.Len(t, got.Condition.Conditions, 16)
}

func TestWitnessConditionMatches(t *testing.T) {
	entry := common.Uint160{0xE}
	ctx := &MatchContext{
		CurrentScriptHash: common.Uint160{1},
		CallingScriptHash: entry,
		EntryScriptHash:   entry,
	}

	require.True(t, (&WitnessCondition{Type: WitnessCalledByEntry}).Matches(ctx))
	require.True(t, (&WitnessCondition{Type: WitnessScriptHash, Hash: common.Uint160{1}}).Matches(ctx))
	require.False(t, (&WitnessCondition{Type: WitnessScriptHash, Hash: common.Uint160{2}}).Matches(ctx))

	and := WitnessCondition{Type: WitnessAnd, Conditions: []WitnessCondition{
		{Type: WitnessCalledByEntry},
		{Type: WitnessBoolean, Bool: false},
	}}
	require.False(t, and.Matches(ctx))

	or := WitnessCondition{Type: WitnessOr, Conditions: and.Conditions}
	require.True(t, or.Matches(ctx))
}

func TestHeaderHashExcludesWitness(t *testing.T) {
	h := Header{
		Version:    0,
		PrevHash:   common.Uint256{1},
		MerkleRoot: common.Uint256{2},
		Timestamp:  1600000000000,
		Nonce:      42,
		Index:      7,
	}
	base := h.Hash()

	h2 := h
	h2.Witness = Witness{InvocationScript: []byte{1}, VerificationScript: []byte{2}}
	h2.hashed = false
	require.Equal(t, base, h2.Hash())

	h3 := h
	h3.Index = 8
	h3.hashed = false
	require.NotEqual(t, base, h3.Hash())
}

func TestBlockRoundTripAndMerkle(t *testing.T) {
	tx := newTestTx()
	b := &Block{
		Header: Header{
			PrevHash:  crypto.Sha256([]byte("parent")),
			Timestamp: 1234567,
			Index:     3,
			Witness:   Witness{VerificationScript: []byte{0x51}},
		},
		Transactions: []*Transaction{tx},
	}
	b.RebuildMerkleRoot()
	require.NoError(t, b.CheckMerkleRoot())
	require.Equal(t, tx.Hash(), b.MerkleRoot)

	data, err := wire.ToBytes(b)
	require.NoError(t, err)
	var got Block
	require.NoError(t, wire.FromBytes(data, &got))
	require.Equal(t, b.Hash(), got.Hash())
	require.Len(t, got.Transactions, 1)
	require.NoError(t, got.CheckMerkleRoot())

	got.Transactions = append(got.Transactions, newTestTx())
	require.ErrorIs(t, got.CheckMerkleRoot(), ErrMerkleMismatch)
}

func TestExtensiblePayloadRoundTrip(t *testing.T) {
	p := &ExtensiblePayload{
		Category:        "dBFT",
		ValidBlockStart: 10,
		ValidBlockEnd:   20,
		Sender:          common.Uint160{5},
		Data:            []byte{1, 2, 3},
		Witness:         Witness{VerificationScript: []byte{0x51}},
	}
	data, err := wire.ToBytes(p)
	require.NoError(t, err)
	var got ExtensiblePayload
	require.NoError(t, wire.FromBytes(data, &got))
	require.Equal(t, p.Hash(), got.Hash())

	// Start must precede end.
	p.ValidBlockEnd = 10
	data, err = wire.ToBytes(p)
	require.NoError(t, err)
	require.ErrorIs(t, wire.FromBytes(data, &got), ErrInvalidExtensible)
}
