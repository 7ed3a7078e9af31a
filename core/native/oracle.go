package native

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/core/state"
	"github.com/gneo-network/gneo/core/types"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
	"github.com/gneo-network/gneo/wire"
)

// Oracle storage prefixes.
var (
	keyRequestID     = []byte{0x09}
	keyRequestPrice  = []byte{0x05}
	prefixRequest    = byte(0x07)
	prefixIDList     = byte(0x06)
)

var (
	errRequestNotFound = errors.New("native: oracle request not found")
	errTooManyPending  = errors.New("native: too many pending requests for this URL")
)

// Oracle is the on-chain request registry of the oracle service.
type Oracle struct {
	baseContract
	GAS      *GAS
	RoleMgmt *RoleManagement
}

func newOracle() *Oracle {
	o := &Oracle{baseContract: baseContract{interop.NewContractMD("OracleContract", OracleID)}}
	md := o.md
	md.Methods = []interop.Method{
		{Name: "request", Handler: o.request, CPUFee: 0, RequiredFlags: callflag.States | callflag.AllowNotify, ParamCount: 5},
		{Name: "getPrice", Handler: o.getPriceMethod, CPUFee: 1 << 15, RequiredFlags: callflag.ReadStates},
		{Name: "setPrice", Handler: o.setPrice, CPUFee: 1 << 15, RequiredFlags: callflag.States, ParamCount: 1},
		{Name: "finish", Handler: o.finish, CPUFee: 0, RequiredFlags: callflag.States | callflag.AllowCall | callflag.AllowNotify},
	}
	return o
}

func requestKey(id uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixRequest
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

func idListKey(url string) []byte {
	h := crypto.Hash160([]byte(url))
	return append([]byte{prefixIDList}, h[:]...)
}

// Price returns the per-request oracle fee.
func (o *Oracle) Price(ic *interop.Context) int64 {
	return getIntStorage(ic, OracleID, keyRequestPrice, 5000_0000)
}

// GetRequest reads a pending request by id.
func (o *Oracle) GetRequest(ic *interop.Context, id uint64) (*state.OracleRequest, error) {
	raw := getStorage(ic, OracleID, requestKey(id))
	if raw == nil {
		return nil, errRequestNotFound
	}
	req := new(state.OracleRequest)
	if err := wire.FromBytes(raw, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (o *Oracle) request(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	url, err := toString(args[0])
	if err != nil {
		return nil, err
	}
	if len(url) == 0 || len(url) > params.MaxOracleURLLength {
		return nil, fmt.Errorf("%w: url of %d bytes", ErrOutOfBounds, len(url))
	}
	var filter string
	if _, isNull := args[1].(stackitem.Null); !isNull {
		filter, err = toString(args[1])
		if err != nil {
			return nil, err
		}
		if len(filter) > params.MaxOracleFilterLength {
			return nil, fmt.Errorf("%w: filter of %d bytes", ErrOutOfBounds, len(filter))
		}
	}
	callback, err := toString(args[2])
	if err != nil {
		return nil, err
	}
	if len(callback) == 0 || len(callback) > 32 || callback[0] == '_' {
		return nil, fmt.Errorf("%w: bad callback name %q", ErrOutOfBounds, callback)
	}
	userData, err := stackitem.Serialize(args[3])
	if err != nil {
		return nil, err
	}
	gasForResponse, err := toInt64(args[4])
	if err != nil {
		return nil, err
	}
	if gasForResponse < params.MinOracleResponseGas {
		return nil, fmt.Errorf("%w: response gas %d below minimum", ErrOutOfBounds, gasForResponse)
	}

	// The requester pays the oracle fee plus the future response execution.
	if err := ic.AddGas(o.Price(ic) + gasForResponse); err != nil {
		return nil, err
	}
	caller := ic.VM.Context().CallingScriptHash()
	if err := o.GAS.Mint(ic, o.md.Hash, big.NewInt(gasForResponse)); err != nil {
		return nil, err
	}

	id := uint64(getIntStorage(ic, OracleID, keyRequestID, 0))
	if err := putIntStorage(ic, OracleID, keyRequestID, int64(id+1)); err != nil {
		return nil, err
	}
	req := &state.OracleRequest{
		OriginalTxID:     ic.Container(),
		GasForResponse:   gasForResponse,
		URL:              url,
		Filter:           filter,
		CallbackContract: caller,
		CallbackMethod:   callback,
		UserData:         userData,
	}
	if err := putSerializable(ic, OracleID, requestKey(id), req); err != nil {
		return nil, err
	}
	if err := o.addToIDList(ic, url, id); err != nil {
		return nil, err
	}
	notify(ic, o.md.Hash, "OracleRequest",
		stackitem.Make(int64(id)), stackitem.ByteArray(caller[:]),
		stackitem.Make(url), stackitem.Make(filter))
	return stackitem.Null{}, nil
}

func (o *Oracle) addToIDList(ic *interop.Context, url string, id uint64) error {
	key := idListKey(url)
	ids := decodeIDList(getStorage(ic, OracleID, key))
	if len(ids) >= params.MaxOraclePendingPerURL {
		return errTooManyPending
	}
	ids = append(ids, id)
	return putStorage(ic, OracleID, key, encodeIDList(ids))
}

func (o *Oracle) removeFromIDList(ic *interop.Context, url string, id uint64) error {
	key := idListKey(url)
	ids := decodeIDList(getStorage(ic, OracleID, key))
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		return delStorage(ic, OracleID, key)
	}
	return putStorage(ic, OracleID, key, encodeIDList(ids))
}

// finish runs inside an oracle response transaction: it resolves the request
// and invokes the callback with the response payload.
func (o *Oracle) finish(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	if ic.Tx == nil {
		return nil, errors.New("native: finish outside a transaction")
	}
	attr := ic.Tx.GetAttribute(types.OracleResponseT)
	if attr == nil {
		return nil, errors.New("native: finish without an OracleResponse attribute")
	}
	resp := attr.Oracle
	req, err := o.GetRequest(ic, resp.ID)
	if err != nil {
		return nil, err
	}
	userData, err := stackitem.Deserialize(req.UserData)
	if err != nil {
		return nil, err
	}
	args := []stackitem.Item{
		stackitem.Make(req.URL),
		userData,
		stackitem.Make(int64(resp.Code)),
		stackitem.ByteArray(resp.Result),
	}
	return stackitem.Null{}, ic.CallContract(req.CallbackContract, req.CallbackMethod, callflag.All, args)
}

// PostPersist settles every oracle response in the persisted block: removes
// the request, emits the response event and rewards the serving node.
func (o *Oracle) PostPersist(ic *interop.Context) error {
	if ic.Block == nil {
		return nil
	}
	var nodes []*crypto.PublicKey
	price := o.Price(ic)
	for _, tx := range ic.Block.Transactions {
		attr := tx.GetAttribute(types.OracleResponseT)
		if attr == nil {
			continue
		}
		resp := attr.Oracle
		req, err := o.GetRequest(ic, resp.ID)
		if err != nil {
			continue
		}
		if err := delStorage(ic, OracleID, requestKey(resp.ID)); err != nil {
			return err
		}
		if err := o.removeFromIDList(ic, req.URL, resp.ID); err != nil {
			return err
		}
		// The whole held response gas is burned from the oracle account;
		// nothing is refunded to the requester.
		if err := o.GAS.Burn(ic, o.md.Hash, big.NewInt(req.GasForResponse)); err != nil {
			return err
		}
		notify(ic, o.md.Hash, "OracleResponse",
			stackitem.Make(int64(resp.ID)), stackitem.ByteArray(req.OriginalTxID[:]))

		if nodes == nil {
			nodes, err = o.RoleMgmt.GetDesignatedByRole(ic, RoleOracle, ic.Block.Index)
			if err != nil {
				return err
			}
		}
		if len(nodes) > 0 {
			// Round-robin by request id.
			node := nodes[resp.ID%uint64(len(nodes))]
			if err := o.GAS.Mint(ic, node.ScriptHash(), big.NewInt(price)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Oracle) getPriceMethod(ic *interop.Context, _ []stackitem.Item) (stackitem.Item, error) {
	return stackitem.Make(o.Price(ic)), nil
}

func (o *Oracle) setPrice(ic *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	v, err := toInt64(args[0])
	if err != nil {
		return nil, err
	}
	if v <= 0 {
		return nil, fmt.Errorf("%w: oracle price %d", ErrOutOfBounds, v)
	}
	if err := checkCommittee(ic, o.RoleMgmt.NEO); err != nil {
		return nil, err
	}
	if err := putIntStorage(ic, OracleID, keyRequestPrice, v); err != nil {
		return nil, err
	}
	return stackitem.Null{}, nil
}

func encodeIDList(ids []uint64) []byte {
	out := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(out[8*i:], id)
	}
	return out
}

func decodeIDList(data []byte) []uint64 {
	ids := make([]uint64, 0, len(data)/8)
	for i := 0; i+8 <= len(data); i += 8 {
		ids = append(ids, binary.LittleEndian.Uint64(data[i:]))
	}
	return ids
}
