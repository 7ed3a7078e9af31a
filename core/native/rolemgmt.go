package native

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
	"github.com/gneo-network/gneo/wire"
)

// Role is a designated node set.
type Role byte

// Designated roles.
const (
	RoleStateValidator Role = 4
	RoleOracle         Role = 8
	RoleNeoFSAlphabet  Role = 16
)

func validRole(r Role) bool {
	return r == RoleStateValidator || r == RoleOracle || r == RoleNeoFSAlphabet
}

// MaxNodesPerRole bounds one designation.
const MaxNodesPerRole = 32

// RoleManagement is the committee-gated role directory. Designations are
// height-indexed so historical queries resolve the set active at any block.
type RoleManagement struct {
	baseContract
	NEO *NEO
}

func newRoleManagement() *RoleManagement {
	r := &RoleManagement{baseContract: baseContract{interop.NewContractMD("RoleManagement", RoleMgmtID)}}
	md := r.md
	md.Methods = []interop.Method{
		{Name: "getDesignatedByRole", Handler: r.getDesignatedByRole, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates, ParamCount: 2},
		{Name: "designateAsRole", Handler: r.designateAsRole, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 2},
	}
	return r
}

func roleKey(role Role, index uint32) []byte {
	key := make([]byte, 5)
	key[0] = byte(role)
	binary.BigEndian.PutUint32(key[1:], index)
	return key
}

// GetDesignatedByRole returns the node set active for role at height index.
func (r *RoleManagement) GetDesignatedByRole(ic *interop.Context, role Role, index uint32) ([]*crypto.PublicKey, error) {
	if !validRole(role) {
		return nil, fmt.Errorf("native: unknown role %d", role)
	}
	var result []*crypto.PublicKey
	// The latest designation at or below index wins.
	ic.DAO.SeekStorage(RoleMgmtID, []byte{byte(role)}, false, func(k, v []byte) bool {
		if len(k) != 5 {
			return true
		}
		h := binary.BigEndian.Uint32(k[1:])
		if h > index {
			return false
		}
		keys, err := decodeKeyList(v)
		if err == nil {
			result = keys
		}
		return true
	})
	return result, nil
}

func (r *RoleManagement) getDesignatedByRole(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	role, err := toInt64(args[0])
	if err != nil {
		return nil, err
	}
	index, err := toInt64(args[1])
	if err != nil || index < 0 || index > 1<<32-1 {
		return nil, ErrOutOfBounds
	}
	keys, err := r.GetDesignatedByRole(ic, Role(role), uint32(index))
	if err != nil {
		return nil, err
	}
	return keysToArray(keys), nil
}

func (r *RoleManagement) designateAsRole(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	role, err := toInt64(args[0])
	if err != nil {
		return nil, err
	}
	if !validRole(Role(role)) {
		return nil, fmt.Errorf("native: unknown role %d", role)
	}
	arr, ok := args[1].(*stackitem.Array)
	if !ok {
		return nil, errors.New("native: designation expects a key array")
	}
	if arr.Len() == 0 || arr.Len() > MaxNodesPerRole {
		return nil, fmt.Errorf("%w: %d nodes", ErrOutOfBounds, arr.Len())
	}
	if err := checkCommittee(ic, r.NEO); err != nil {
		return nil, err
	}
	if ic.Block == nil {
		return nil, errors.New("native: designation outside a block")
	}
	keys := make([]*crypto.PublicKey, arr.Len())
	for i, item := range arr.Value() {
		keys[i], err = toPublicKey(item)
		if err != nil {
			return nil, err
		}
	}
	crypto.SortKeys(keys)
	for i := 1; i < len(keys); i++ {
		if keys[i].Cmp(keys[i-1]) == 0 {
			return nil, errors.New("native: duplicate designated key")
		}
	}
	// Active from the next block.
	index := ic.Block.Index + 1
	data, err := encodeKeyList(keys)
	if err != nil {
		return nil, err
	}
	if err := putStorage(ic, RoleMgmtID, roleKey(Role(role), index), data); err != nil {
		return nil, err
	}
	notify(ic, r.md.Hash, "Designation", stackitem.Make(role), stackitem.Make(int64(ic.Block.Index)))
	return stackitem.Null{}, nil
}

func encodeKeyList(keys []*crypto.PublicKey) ([]byte, error) {
	w := wire.NewBufBinWriter()
	w.WriteVarUint(uint64(len(keys)))
	for _, k := range keys {
		k.EncodeBinary(w.BinWriter)
	}
	if w.Err != nil {
		return nil, w.Err
	}
	return w.Bytes(), nil
}

func decodeKeyList(data []byte) ([]*crypto.PublicKey, error) {
	r := wire.NewBinReaderFromBuf(data)
	n := r.ReadArrayCount(MaxNodesPerRole)
	keys := make([]*crypto.PublicKey, n)
	for i := 0; i < n; i++ {
		keys[i] = new(crypto.PublicKey)
		keys[i].DecodeBinary(r)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return keys, nil
}
