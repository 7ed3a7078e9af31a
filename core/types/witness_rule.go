package types

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/wire"
)

// WitnessAction tells whether a matched rule admits or refuses the witness.
type WitnessAction byte

// Witness rule actions.
const (
	WitnessDeny  WitnessAction = 0
	WitnessAllow WitnessAction = 1
)

// WitnessConditionType tags the condition variants.
type WitnessConditionType byte

// Witness condition variants. The set is closed; extending it is a hardfork.
const (
	WitnessBoolean          WitnessConditionType = 0x00
	WitnessNot              WitnessConditionType = 0x01
	WitnessAnd              WitnessConditionType = 0x02
	WitnessOr               WitnessConditionType = 0x03
	WitnessScriptHash       WitnessConditionType = 0x18
	WitnessGroup            WitnessConditionType = 0x19
	WitnessCalledByEntry    WitnessConditionType = 0x20
	WitnessCalledByContract WitnessConditionType = 0x28
	WitnessCalledByGroup    WitnessConditionType = 0x29
)

var (
	ErrRuleTooDeep      = errors.New("types: witness condition nesting exceeds limit")
	ErrRuleTooWide      = errors.New("types: witness composite condition exceeds item limit")
	ErrBadConditionType = errors.New("types: unknown witness condition type")
)

// MatchContext is what a condition can see during evaluation.
type MatchContext struct {
	// CurrentScriptHash is the contract asking for the witness.
	CurrentScriptHash common.Uint160
	// CallingScriptHash is its direct caller (zero at the entry script).
	CallingScriptHash common.Uint160
	// EntryScriptHash is the transaction's entry script.
	EntryScriptHash common.Uint160
	// Groups resolves the manifest groups of a contract.
	Groups func(common.Uint160) []*crypto.PublicKey
}

// WitnessCondition is one node of a rule's condition tree.
type WitnessCondition struct {
	Type WitnessConditionType

	Bool       bool
	Hash       common.Uint160
	Group      *crypto.PublicKey
	Conditions []WitnessCondition
}

// WitnessRule scopes a signature to calls matching its condition.
type WitnessRule struct {
	Action    WitnessAction
	Condition WitnessCondition
}

// EncodeBinary implements wire.Serializable.
func (r *WitnessRule) EncodeBinary(w *wire.BinWriter) {
	w.WriteB(byte(r.Action))
	r.Condition.EncodeBinary(w)
}

// DecodeBinary implements wire.Serializable.
func (r *WitnessRule) DecodeBinary(br *wire.BinReader) {
	a := br.ReadB()
	if br.Err == nil && a != byte(WitnessDeny) && a != byte(WitnessAllow) {
		br.Err = fmt.Errorf("types: unknown witness action 0x%x", a)
		return
	}
	r.Action = WitnessAction(a)
	r.Condition.decodeWithDepth(br, params.MaxWitnessRuleDepth)
}

// Matches evaluates the rule's condition.
func (r *WitnessRule) Matches(ctx *MatchContext) bool {
	return r.Condition.Matches(ctx)
}

// EncodeBinary implements wire.Serializable.
func (c *WitnessCondition) EncodeBinary(w *wire.BinWriter) {
	w.WriteB(byte(c.Type))
	switch c.Type {
	case WitnessBoolean:
		w.WriteBool(c.Bool)
	case WitnessNot:
		c.Conditions[0].EncodeBinary(w)
	case WitnessAnd, WitnessOr:
		w.WriteVarUint(uint64(len(c.Conditions)))
		for i := range c.Conditions {
			c.Conditions[i].EncodeBinary(w)
		}
	case WitnessScriptHash, WitnessCalledByContract:
		w.WriteBytes(c.Hash[:])
	case WitnessGroup, WitnessCalledByGroup:
		c.Group.EncodeBinary(w)
	case WitnessCalledByEntry:
	default:
		w.Err = ErrBadConditionType
	}
}

// DecodeBinary implements wire.Serializable.
func (c *WitnessCondition) DecodeBinary(br *wire.BinReader) {
	c.decodeWithDepth(br, params.MaxWitnessRuleDepth)
}

func (c *WitnessCondition) decodeWithDepth(br *wire.BinReader, depth int) {
	if depth <= 0 {
		br.Err = ErrRuleTooDeep
		return
	}
	t := WitnessConditionType(br.ReadB())
	if br.Err != nil {
		return
	}
	c.Type = t
	switch t {
	case WitnessBoolean:
		c.Bool = br.ReadBool()
	case WitnessNot:
		var sub WitnessCondition
		sub.decodeWithDepth(br, depth-1)
		c.Conditions = []WitnessCondition{sub}
	case WitnessAnd, WitnessOr:
		count := br.ReadVarUint()
		if br.Err != nil {
			return
		}
		if count > params.MaxWitnessSubitems {
			br.Err = fmt.Errorf("%w: %d items", ErrRuleTooWide, count)
			return
		}
		n := int(count)
		if n == 0 {
			br.Err = errors.New("types: empty composite witness condition")
			return
		}
		c.Conditions = make([]WitnessCondition, n)
		for i := 0; i < n; i++ {
			c.Conditions[i].decodeWithDepth(br, depth-1)
			if br.Err != nil {
				return
			}
		}
	case WitnessScriptHash, WitnessCalledByContract:
		br.ReadBytes(c.Hash[:])
	case WitnessGroup, WitnessCalledByGroup:
		c.Group = new(crypto.PublicKey)
		c.Group.DecodeBinary(br)
	case WitnessCalledByEntry:
	default:
		br.Err = fmt.Errorf("%w: 0x%x", ErrBadConditionType, byte(t))
	}
}

// Matches evaluates the condition against ctx.
func (c *WitnessCondition) Matches(ctx *MatchContext) bool {
	switch c.Type {
	case WitnessBoolean:
		return c.Bool
	case WitnessNot:
		return !c.Conditions[0].Matches(ctx)
	case WitnessAnd:
		for i := range c.Conditions {
			if !c.Conditions[i].Matches(ctx) {
				return false
			}
		}
		return true
	case WitnessOr:
		for i := range c.Conditions {
			if c.Conditions[i].Matches(ctx) {
				return true
			}
		}
		return false
	case WitnessScriptHash:
		return ctx.CurrentScriptHash.Equals(c.Hash)
	case WitnessGroup:
		return groupHasKey(ctx.Groups, ctx.CurrentScriptHash, c.Group)
	case WitnessCalledByEntry:
		return ctx.CallingScriptHash.IsZero() || ctx.CallingScriptHash.Equals(ctx.EntryScriptHash)
	case WitnessCalledByContract:
		return ctx.CallingScriptHash.Equals(c.Hash)
	case WitnessCalledByGroup:
		return groupHasKey(ctx.Groups, ctx.CallingScriptHash, c.Group)
	}
	return false
}

func groupHasKey(groups func(common.Uint160) []*crypto.PublicKey, h common.Uint160, key *crypto.PublicKey) bool {
	if groups == nil {
		return false
	}
	for _, g := range groups(h) {
		if g.Cmp(key) == 0 {
			return true
		}
	}
	return false
}
