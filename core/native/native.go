// Package native implements the protocol-level contracts every node carries:
// management, policy, the two token ledgers, roles, the oracle registry and
// the deterministic helper libraries. Hashes and ids are fixed; adding a
// contract is a hardfork.
package native

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm/stackitem"
	"github.com/gneo-network/gneo/wire"
)

// Native contract ids. Deployed contracts count up from 1; natives count
// down from -1.
const (
	ManagementID int32 = -1
	StdLibID     int32 = -2
	CryptoLibID  int32 = -3
	LedgerID     int32 = -4
	NeoID        int32 = -5
	GasID        int32 = -6
	PolicyID     int32 = -7
	RoleMgmtID   int32 = -8
	OracleID     int32 = -9
)

var (
	// ErrNotCommittee marks a committee-gated method called without the
	// committee witness.
	ErrNotCommittee = errors.New("native: committee witness required")
	// ErrOutOfBounds marks a setter argument outside its legal range.
	ErrOutOfBounds = errors.New("native: value out of bounds")
)

// Contracts is the wired set of native contracts.
type Contracts struct {
	Management *Management
	StdLib     *StdLib
	CryptoLib  *CryptoLib
	Ledger     *Ledger
	NEO        *NEO
	GAS        *GAS
	Policy     *Policy
	RoleMgmt   *RoleManagement
	Oracle     *Oracle

	// All lists every contract in id order for registration loops.
	All []interop.NativeContract
}

// NewContracts builds and cross-wires the full native set.
func NewContracts() *Contracts {
	cs := new(Contracts)

	cs.Management = newManagement()
	cs.StdLib = newStdLib()
	cs.CryptoLib = newCryptoLib()
	cs.Ledger = newLedger()
	cs.NEO = newNEO()
	cs.GAS = newGAS()
	cs.Policy = newPolicy()
	cs.RoleMgmt = newRoleManagement()
	cs.Oracle = newOracle()

	cs.NEO.GAS = cs.GAS
	cs.NEO.Policy = cs.Policy
	cs.GAS.NEO = cs.NEO
	cs.Policy.NEO = cs.NEO
	cs.RoleMgmt.NEO = cs.NEO
	cs.Oracle.GAS = cs.GAS
	cs.Oracle.RoleMgmt = cs.RoleMgmt
	cs.Management.all = cs

	cs.All = []interop.NativeContract{
		cs.Management, cs.StdLib, cs.CryptoLib, cs.Ledger,
		cs.NEO, cs.GAS, cs.Policy, cs.RoleMgmt, cs.Oracle,
	}
	return cs
}

// ByHash finds a native contract by its fixed hash.
func (cs *Contracts) ByHash(h common.Uint160) interop.NativeContract {
	for _, c := range cs.All {
		if c.Metadata().Hash.Equals(h) {
			return c
		}
	}
	return nil
}

// baseContract carries shared metadata plumbing.
type baseContract struct {
	md *interop.ContractMD
}

// Metadata implements interop.NativeContract.
func (c *baseContract) Metadata() *interop.ContractMD {
	return c.md
}

// OnPersist implements interop.NativeContract.
func (c *baseContract) OnPersist(*interop.Context) error { return nil }

// PostPersist implements interop.NativeContract.
func (c *baseContract) PostPersist(*interop.Context) error { return nil }

// --- storage helpers shared by every native ---

func getStorage(ic *interop.Context, id int32, key []byte) []byte {
	return ic.DAO.GetStorageItem(id, key)
}

func putStorage(ic *interop.Context, id int32, key, value []byte) error {
	return ic.DAO.PutStorageItem(id, key, value)
}

func delStorage(ic *interop.Context, id int32, key []byte) error {
	return ic.DAO.DeleteStorageItem(id, key)
}

func getIntStorage(ic *interop.Context, id int32, key []byte, def int64) int64 {
	raw := getStorage(ic, id, key)
	if raw == nil {
		return def
	}
	v := stackitem.BigIntFromBytes(raw)
	return v.Int64()
}

func putIntStorage(ic *interop.Context, id int32, key []byte, v int64) error {
	return putStorage(ic, id, key, stackitem.BigIntToBytes(big.NewInt(v)))
}

func getSerializable(ic *interop.Context, id int32, key []byte, out wire.Serializable) error {
	raw := getStorage(ic, id, key)
	if raw == nil {
		return errors.New("native: record not found")
	}
	return wire.FromBytes(raw, out)
}

func putSerializable(ic *interop.Context, id int32, key []byte, in wire.Serializable) error {
	data, err := wire.ToBytes(in)
	if err != nil {
		return err
	}
	return putStorage(ic, id, key, data)
}

// checkCommittee enforces the committee multi-signature witness.
func checkCommittee(ic *interop.Context, neo *NEO) error {
	addr, err := neo.CommitteeAddress(ic)
	if err != nil {
		return err
	}
	ok, err := ic.CheckWitness(addr)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCommittee
	}
	return nil
}

// notify emits a canonical (contract, event, state) notification.
func notify(ic *interop.Context, hash common.Uint160, event string, items ...stackitem.Item) {
	ic.AddNotification(hash, event, stackitem.NewArray(items))
}

// --- argument helpers ---

func toUint160(item stackitem.Item) (common.Uint160, error) {
	b, err := item.TryBytes()
	if err != nil {
		return common.Uint160{}, err
	}
	return common.Uint160FromBytes(b)
}

func toUint256(item stackitem.Item) (common.Uint256, error) {
	b, err := item.TryBytes()
	if err != nil {
		return common.Uint256{}, err
	}
	return common.Uint256FromBytes(b)
}

func toPublicKey(item stackitem.Item) (*crypto.PublicKey, error) {
	b, err := item.TryBytes()
	if err != nil {
		return nil, err
	}
	return crypto.NewPublicKeyFromBytes(b)
}

func toInt64(item stackitem.Item) (int64, error) {
	v, err := item.TryInteger()
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("%w: integer too large", ErrOutOfBounds)
	}
	return v.Int64(), nil
}

func toString(item stackitem.Item) (string, error) {
	b, err := item.TryBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func beUint32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}
