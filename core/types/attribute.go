package types

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/wire"
)

// AttrType tags transaction attributes. The registry is closed: a new
// attribute is a code change plus a hardfork entry, never runtime
// registration.
type AttrType byte

// Attribute types.
const (
	HighPriorityT   AttrType = 0x01
	OracleResponseT AttrType = 0x11
	NotValidBeforeT AttrType = 0x20
	ConflictsT      AttrType = 0x21
)

// MaxOracleResultSize bounds an oracle response payload.
const MaxOracleResultSize = 0xFFFF

var (
	ErrBadAttribute       = errors.New("types: malformed attribute")
	ErrDuplicateAttribute = errors.New("types: duplicate attribute")
)

// Attribute is one transaction attribute. At most one of the typed fields is
// set, matching Type; HighPriority carries none.
type Attribute struct {
	Type AttrType

	Oracle         *OracleResponse
	NotValidBefore uint32
	Conflict       common.Uint256
}

// OracleResponseCode reports the outcome of an oracle request.
type OracleResponseCode byte

// Oracle response codes.
const (
	OracleSuccess              OracleResponseCode = 0x00
	OracleProtocolNotSupported OracleResponseCode = 0x10
	OracleConsensusUnreachable OracleResponseCode = 0x12
	OracleNotFound             OracleResponseCode = 0x14
	OracleTimeout              OracleResponseCode = 0x16
	OracleForbidden            OracleResponseCode = 0x18
	OracleResponseTooLarge     OracleResponseCode = 0x1A
	OracleInsufficientFunds    OracleResponseCode = 0x1C
	OracleContentTypeNotSupported OracleResponseCode = 0x1F
	OracleError                OracleResponseCode = 0xFF
)

// OracleResponse carries a result back to the contract that requested it.
type OracleResponse struct {
	ID     uint64
	Code   OracleResponseCode
	Result []byte
}

// EncodeBinary implements wire.Serializable.
func (a *Attribute) EncodeBinary(w *wire.BinWriter) {
	w.WriteB(byte(a.Type))
	switch a.Type {
	case HighPriorityT:
	case OracleResponseT:
		w.WriteU64LE(a.Oracle.ID)
		w.WriteB(byte(a.Oracle.Code))
		w.WriteVarBytes(a.Oracle.Result)
	case NotValidBeforeT:
		w.WriteU32LE(a.NotValidBefore)
	case ConflictsT:
		w.WriteBytes(a.Conflict[:])
	default:
		w.Err = fmt.Errorf("%w: unknown type 0x%x", ErrBadAttribute, byte(a.Type))
	}
}

// DecodeBinary implements wire.Serializable.
func (a *Attribute) DecodeBinary(r *wire.BinReader) {
	a.Type = AttrType(r.ReadB())
	if r.Err != nil {
		return
	}
	switch a.Type {
	case HighPriorityT:
	case OracleResponseT:
		a.Oracle = new(OracleResponse)
		a.Oracle.ID = r.ReadU64LE()
		code := OracleResponseCode(r.ReadB())
		if r.Err == nil && !validOracleCode(code) {
			r.Err = fmt.Errorf("%w: oracle code 0x%x", ErrBadAttribute, byte(code))
			return
		}
		a.Oracle.Code = code
		a.Oracle.Result = r.ReadVarBytes(MaxOracleResultSize)
		if r.Err == nil && code != OracleSuccess && len(a.Oracle.Result) != 0 {
			r.Err = fmt.Errorf("%w: non-success oracle response carries a result", ErrBadAttribute)
		}
	case NotValidBeforeT:
		a.NotValidBefore = r.ReadU32LE()
	case ConflictsT:
		r.ReadBytes(a.Conflict[:])
	default:
		r.Err = fmt.Errorf("%w: unknown type 0x%x", ErrBadAttribute, byte(a.Type))
	}
}

// AllowsMultiple reports whether a transaction may carry several attributes
// of this type.
func (t AttrType) AllowsMultiple() bool {
	return t == ConflictsT
}

func validOracleCode(c OracleResponseCode) bool {
	switch c {
	case OracleSuccess, OracleProtocolNotSupported, OracleConsensusUnreachable,
		OracleNotFound, OracleTimeout, OracleForbidden, OracleResponseTooLarge,
		OracleInsufficientFunds, OracleContentTypeNotSupported, OracleError:
		return true
	}
	return false
}
