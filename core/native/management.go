package native

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
	"github.com/gneo-network/gneo/wire"
)

// Management storage prefixes.
var (
	prefixContract  = byte(0x08)
	keyNextID       = []byte{0x0f}
	keyMinDeployFee = []byte{0x20}
)

// MaxContractScriptSize bounds a deployed script.
const MaxContractScriptSize = 512 * 1024

var (
	errContractExists   = errors.New("native: contract already deployed")
	errContractMissing  = errors.New("native: contract not found")
)

// Management deploys, updates and destroys contracts and assigns their
// sequential positive ids.
type Management struct {
	baseContract
	all *Contracts
}

func newManagement() *Management {
	m := &Management{baseContract: baseContract{interop.NewContractMD("ContractManagement", ManagementID)}}
	md := m.md
	md.Methods = []interop.Method{
		{Name: "deploy", Handler: m.deploy, CPUFee: 0, StorageFee: 0, RequiredFlags: callflag.States | callflag.AllowNotify, ParamCount: 2},
		{Name: "update", Handler: m.update, CPUFee: 0, RequiredFlags: callflag.States | callflag.AllowNotify, ParamCount: 2},
		{Name: "destroy", Handler: m.destroy, CPUFee: 1 << 15, RequiredFlags: callflag.States | callflag.AllowNotify},
		{Name: "getContract", Handler: m.getContractMethod, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates, ParamCount: 1},
		{Name: "getMinimumDeploymentFee", Handler: m.getMinimumDeploymentFee, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setMinimumDeploymentFee", Handler: m.setMinimumDeploymentFee, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
	}
	return m
}

func contractKey(h common.Uint160) []byte {
	return append([]byte{prefixContract}, h[:]...)
}

// GetContract resolves a deployed contract by hash. The ledger wires it into
// every interop context it builds.
func (m *Management) GetContract(ic *interop.Context, h common.Uint160) (*state.Contract, error) {
	raw := getStorage(ic, ManagementID, contractKey(h))
	if raw == nil {
		return nil, errContractMissing
	}
	c := new(state.Contract)
	if err := wire.FromBytes(raw, c); err != nil {
		return nil, err
	}
	return c, nil
}

// MinimumDeploymentFee returns the deploy surcharge.
func (m *Management) MinimumDeploymentFee(ic *interop.Context) int64 {
	return getIntStorage(ic, ManagementID, keyMinDeployFee, 10_00000000)
}

func (m *Management) nextID(ic *interop.Context) (int32, error) {
	id := int32(getIntStorage(ic, ManagementID, keyNextID, 1))
	if err := putIntStorage(ic, ManagementID, keyNextID, int64(id)+1); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *Management) deploy(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	script, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	manifestRaw, err := args[1].TryBytes()
	if err != nil {
		return nil, err
	}
	if len(script) == 0 || len(script) > MaxContractScriptSize {
		return nil, fmt.Errorf("%w: script of %d bytes", ErrOutOfBounds, len(script))
	}
	if len(manifestRaw) == 0 || len(manifestRaw) > state.MaxManifestSize {
		return nil, fmt.Errorf("%w: manifest of %d bytes", ErrOutOfBounds, len(manifestRaw))
	}
	if err := ic.AddGas(m.MinimumDeploymentFee(ic)); err != nil {
		return nil, err
	}
	var manifest state.Manifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", state.ErrBadManifest, err)
	}
	if err := manifest.IsValid(len(script)); err != nil {
		return nil, err
	}
	if ic.Tx == nil {
		return nil, errors.New("native: deploy outside a transaction")
	}
	sender := ic.Tx.Sender()
	hash := state.CreateContractHash(sender, state.ScriptChecksum(script), manifest.Name)
	if existing := getStorage(ic, ManagementID, contractKey(hash)); existing != nil {
		return nil, errContractExists
	}
	if m.all != nil && m.all.ByHash(hash) != nil {
		return nil, errContractExists
	}
	id, err := m.nextID(ic)
	if err != nil {
		return nil, err
	}
	contract := &state.Contract{
		ID:       id,
		Hash:     hash,
		Script:   script,
		Manifest: manifest,
	}
	if err := putSerializable(ic, ManagementID, contractKey(hash), contract); err != nil {
		return nil, err
	}
	notify(ic, m.md.Hash, "Deploy", stackitem.ByteArray(hash[:]))
	return contractToItem(contract), nil
}

func (m *Management) update(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	caller := ic.VM.Context().CallingScriptHash()
	contract, err := m.GetContract(ic, caller)
	if err != nil {
		return nil, fmt.Errorf("native: update of an unknown contract %s", caller)
	}
	if _, isNull := args[0].(stackitem.Null); !isNull {
		script, err := args[0].TryBytes()
		if err != nil {
			return nil, err
		}
		if len(script) == 0 || len(script) > MaxContractScriptSize {
			return nil, fmt.Errorf("%w: script of %d bytes", ErrOutOfBounds, len(script))
		}
		contract.Script = script
	}
	if _, isNull := args[1].(stackitem.Null); !isNull {
		manifestRaw, err := args[1].TryBytes()
		if err != nil {
			return nil, err
		}
		var manifest state.Manifest
		if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
			return nil, fmt.Errorf("%w: %v", state.ErrBadManifest, err)
		}
		if err := manifest.IsValid(len(contract.Script)); err != nil {
			return nil, err
		}
		if manifest.Name != contract.Manifest.Name {
			return nil, fmt.Errorf("%w: update cannot rename", state.ErrBadManifest)
		}
		contract.Manifest = manifest
	}
	contract.UpdateCounter++
	if err := putSerializable(ic, ManagementID, contractKey(contract.Hash), contract); err != nil {
		return nil, err
	}
	notify(ic, m.md.Hash, "Update", stackitem.ByteArray(contract.Hash[:]))
	return stackitem.Null{}, nil
}

func (m *Management) destroy(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	caller := ic.VM.Context().CallingScriptHash()
	contract, err := m.GetContract(ic, caller)
	if err != nil {
		return nil, fmt.Errorf("native: destroy of an unknown contract %s", caller)
	}
	if err := delStorage(ic, ManagementID, contractKey(contract.Hash)); err != nil {
		return nil, err
	}
	// The contract's own storage space dies with it.
	var keys [][]byte
	ic.DAO.SeekStorage(contract.ID, nil, false, func(k, v []byte) bool {
		keys = append(keys, append([]byte(nil), k...))
		return true
	})
	for _, k := range keys {
		if err := delStorage(ic, contract.ID, k); err != nil {
			return nil, err
		}
	}
	notify(ic, m.md.Hash, "Destroy", stackitem.ByteArray(contract.Hash[:]))
	return stackitem.Null{}, nil
}

func (m *Management) getContractMethod(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	hash, err := toUint160(args[0])
	if err != nil {
		return nil, err
	}
	if m.all != nil {
		if native := m.all.ByHash(hash); native != nil {
			md := native.Metadata()
			return stackitem.NewArray([]stackitem.Item{
				stackitem.Make(int64(md.ID)),
				stackitem.Make(0),
				stackitem.ByteArray(md.Hash[:]),
				stackitem.Null{},
				stackitem.Make(md.Name),
			}), nil
		}
	}
	contract, err := m.GetContract(ic, hash)
	if err != nil {
		return stackitem.Null{}, nil
	}
	return contractToItem(contract), nil
}

func (m *Management) getMinimumDeploymentFee(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(m.MinimumDeploymentFee(ic)), nil
}

func (m *Management) setMinimumDeploymentFee(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	v, err := toInt64(args[0])
	if err != nil {
		return nil, err
	}
	if v < 0 {
		return nil, fmt.Errorf("%w: deployment fee %d", ErrOutOfBounds, v)
	}
	var neo *NEO
	if m.all != nil {
		neo = m.all.NEO
	}
	if err := checkCommittee(ic, neo); err != nil {
		return nil, err
	}
	if err := putIntStorage(ic, ManagementID, keyMinDeployFee, v); err != nil {
		return nil, err
	}
	return stackitem.Null{}, nil
}

func contractToItem(c *state.Contract) stackitem.Item {
	raw, _ := json.Marshal(&c.Manifest)
	return stackitem.NewArray([]stackitem.Item{
		stackitem.Make(int64(c.ID)),
		stackitem.Make(int64(c.UpdateCounter)),
		stackitem.ByteArray(c.Hash[:]),
		stackitem.ByteArray(c.Script),
		stackitem.ByteArray(raw),
	})
}
