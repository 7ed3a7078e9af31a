package types

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/wire"
)

// WitnessScope is the bit set limiting where a signer's witness applies.
type WitnessScope byte

// Witness scopes.
const (
	ScopeNone            WitnessScope = 0
	ScopeCalledByEntry   WitnessScope = 0x01
	ScopeCustomContracts WitnessScope = 0x10
	ScopeCustomGroups    WitnessScope = 0x20
	ScopeWitnessRules    WitnessScope = 0x40
	ScopeGlobal          WitnessScope = 0x80
)

var (
	ErrInvalidScope = errors.New("types: invalid witness scope")
)

// MaxAllowedItems bounds the custom contract/group/rule lists of one signer.
const MaxAllowedItems = 16

// Signer names an account whose witness authorizes the transaction, plus the
// scope that witness is valid in. The first signer pays the fees.
type Signer struct {
	Account          common.Uint160
	Scopes           WitnessScope
	AllowedContracts []common.Uint160
	AllowedGroups    []*crypto.PublicKey
	Rules            []WitnessRule
}

// EncodeBinary implements wire.Serializable.
func (s *Signer) EncodeBinary(w *wire.BinWriter) {
	w.WriteBytes(s.Account[:])
	w.WriteB(byte(s.Scopes))
	if s.Scopes&ScopeCustomContracts != 0 {
		w.WriteVarUint(uint64(len(s.AllowedContracts)))
		for i := range s.AllowedContracts {
			w.WriteBytes(s.AllowedContracts[i][:])
		}
	}
	if s.Scopes&ScopeCustomGroups != 0 {
		w.WriteVarUint(uint64(len(s.AllowedGroups)))
		for i := range s.AllowedGroups {
			s.AllowedGroups[i].EncodeBinary(w)
		}
	}
	if s.Scopes&ScopeWitnessRules != 0 {
		w.WriteVarUint(uint64(len(s.Rules)))
		for i := range s.Rules {
			s.Rules[i].EncodeBinary(w)
		}
	}
}

// DecodeBinary implements wire.Serializable.
func (s *Signer) DecodeBinary(r *wire.BinReader) {
	r.ReadBytes(s.Account[:])
	sc := WitnessScope(r.ReadB())
	if r.Err != nil {
		return
	}
	if err := validateScopes(sc); err != nil {
		r.Err = err
		return
	}
	s.Scopes = sc
	if sc&ScopeCustomContracts != 0 {
		n := r.ReadArrayCount(MaxAllowedItems)
		s.AllowedContracts = make([]common.Uint160, n)
		for i := 0; i < n; i++ {
			r.ReadBytes(s.AllowedContracts[i][:])
		}
	}
	if sc&ScopeCustomGroups != 0 {
		n := r.ReadArrayCount(MaxAllowedItems)
		s.AllowedGroups = make([]*crypto.PublicKey, n)
		for i := 0; i < n; i++ {
			s.AllowedGroups[i] = new(crypto.PublicKey)
			s.AllowedGroups[i].DecodeBinary(r)
		}
	}
	if sc&ScopeWitnessRules != 0 {
		n := r.ReadArrayCount(MaxAllowedItems)
		s.Rules = make([]WitnessRule, n)
		for i := 0; i < n; i++ {
			s.Rules[i].DecodeBinary(r)
		}
	}
}

func validateScopes(sc WitnessScope) error {
	const known = ScopeCalledByEntry | ScopeCustomContracts | ScopeCustomGroups | ScopeWitnessRules | ScopeGlobal
	if sc&^known != 0 {
		return fmt.Errorf("%w: unknown bits in 0x%x", ErrInvalidScope, byte(sc))
	}
	if sc&ScopeGlobal != 0 && sc != ScopeGlobal {
		return fmt.Errorf("%w: Global does not combine", ErrInvalidScope)
	}
	return nil
}

// Matches reports whether this signer's witness covers a call described by
// ctx. ScopeNone matches nothing; such a signer only pays fees.
func (s *Signer) Matches(ctx *MatchContext) bool {
	if s.Scopes == ScopeGlobal {
		return true
	}
	if s.Scopes&ScopeCalledByEntry != 0 {
		if ctx.CallingScriptHash.IsZero() || ctx.CallingScriptHash.Equals(ctx.EntryScriptHash) {
			return true
		}
	}
	if s.Scopes&ScopeCustomContracts != 0 {
		for i := range s.AllowedContracts {
			if ctx.CurrentScriptHash.Equals(s.AllowedContracts[i]) {
				return true
			}
		}
	}
	if s.Scopes&ScopeCustomGroups != 0 {
		for i := range s.AllowedGroups {
			if groupHasKey(ctx.Groups, ctx.CurrentScriptHash, s.AllowedGroups[i]) {
				return true
			}
		}
	}
	if s.Scopes&ScopeWitnessRules != 0 {
		for i := range s.Rules {
			if s.Rules[i].Matches(ctx) {
				return s.Rules[i].Action == WitnessAllow
			}
		}
	}
	return false
}
