package native

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/gneo-network/gneo/core/interop"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm/stackitem"
)

// maxInputLength bounds StdLib string arguments.
const maxInputLength = 1024

// StdLib provides deterministic byte and string helpers.
type StdLib struct {
	baseContract
}

func newStdLib() *StdLib {
	s := &StdLib{baseContract{interop.NewContractMD("StdLib", StdLibID)}}
	md := s.md
	md.Methods = []interop.Method{
		{Name: "serialize", Handler: s.serialize, CPUFee: 1 << 12, ParamCount: 1},
		{Name: "deserialize", Handler: s.deserialize, CPUFee: 1 << 14, ParamCount: 1},
		{Name: "itoa", Handler: s.itoa, CPUFee: 1 << 12, ParamCount: 2},
		{Name: "atoi", Handler: s.atoi, CPUFee: 1 << 6, ParamCount: 2},
		{Name: "base58Encode", Handler: s.base58Encode, CPUFee: 1 << 13, ParamCount: 1},
		{Name: "base58Decode", Handler: s.base58Decode, CPUFee: 1 << 10, ParamCount: 1},
		{Name: "base58CheckEncode", Handler: s.base58CheckEncode, CPUFee: 1 << 16, ParamCount: 1},
		{Name: "base58CheckDecode", Handler: s.base58CheckDecode, CPUFee: 1 << 16, ParamCount: 1},
		{Name: "base64Encode", Handler: s.base64Encode, CPUFee: 1 << 5, ParamCount: 1},
		{Name: "base64Decode", Handler: s.base64Decode, CPUFee: 1 << 5, ParamCount: 1},
		{Name: "memoryCompare", Handler: s.memoryCompare, CPUFee: 1 << 5, ParamCount: 2},
		{Name: "memorySearch", Handler: s.memorySearch, CPUFee: 1 << 6, ParamCount: 2},
		{Name: "stringSplit", Handler: s.stringSplit, CPUFee: 1 << 8, ParamCount: 2},
	}
	return s
}

func (s *StdLib) serialize(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	data, err := stackitem.Serialize(args[0])
	if err != nil {
		return nil, err
	}
	return stackitem.ByteArray(data), nil
}

func (s *StdLib) deserialize(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	data, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	return stackitem.Deserialize(data)
}

func (s *StdLib) itoa(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	v, err := args[0].TryInteger()
	if err != nil {
		return nil, err
	}
	base, err := toInt64(args[1])
	if err != nil {
		return nil, err
	}
	switch base {
	case 10:
		return stackitem.Make(v.Text(10)), nil
	case 16:
		return stackitem.Make(fmt.Sprintf("%x", v)), nil
	default:
		return nil, fmt.Errorf("%w: base %d", ErrOutOfBounds, base)
	}
}

func (s *StdLib) atoi(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	str, err := toString(args[0])
	if err != nil {
		return nil, err
	}
	if len(str) > maxInputLength {
		return nil, ErrOutOfBounds
	}
	base, err := toInt64(args[1])
	if err != nil {
		return nil, err
	}
	if base != 10 && base != 16 {
		return nil, fmt.Errorf("%w: base %d", ErrOutOfBounds, base)
	}
	v, ok := new(big.Int).SetString(str, int(base))
	if !ok {
		return nil, errors.New("native: not a number")
	}
	return stackitem.NewBigInteger(v), nil
}

func (s *StdLib) base58Encode(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	b, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	return stackitem.Make(base58.Encode(b)), nil
}

func (s *StdLib) base58Decode(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	str, err := toString(args[0])
	if err != nil {
		return nil, err
	}
	b, err := base58.Decode(str)
	if err != nil {
		return nil, err
	}
	return stackitem.ByteArray(b), nil
}

func (s *StdLib) base58CheckEncode(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	b, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	return stackitem.Make(base58.Encode(append(append([]byte(nil), b...), crypto.Checksum(b)...))), nil
}

func (s *StdLib) base58CheckDecode(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	str, err := toString(args[0])
	if err != nil {
		return nil, err
	}
	raw, err := base58.Decode(str)
	if err != nil {
		return nil, err
	}
	if len(raw) < 5 {
		return nil, errors.New("native: base58check payload too short")
	}
	payload, check := raw[:len(raw)-4], raw[len(raw)-4:]
	if !bytes.Equal(crypto.Checksum(payload), check) {
		return nil, errors.New("native: base58check checksum mismatch")
	}
	return stackitem.ByteArray(payload), nil
}

func (s *StdLib) base64Encode(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	b, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	return stackitem.Make(base64.StdEncoding.EncodeToString(b)), nil
}

func (s *StdLib) base64Decode(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	str, err := toString(args[0])
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return nil, err
	}
	return stackitem.ByteArray(b), nil
}

func (s *StdLib) memoryCompare(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	a, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	b, err := args[1].TryBytes()
	if err != nil {
		return nil, err
	}
	return stackitem.Make(int64(bytes.Compare(a, b))), nil
}

func (s *StdLib) memorySearch(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	haystack, err := args[0].TryBytes()
	if err != nil {
		return nil, err
	}
	needle, err := args[1].TryBytes()
	if err != nil {
		return nil, err
	}
	return stackitem.Make(int64(bytes.Index(haystack, needle))), nil
}

func (s *StdLib) stringSplit(_ *interop.Context, args []stackitem.Item) (stackitem.Item, error) {
	str, err := toString(args[0])
	if err != nil {
		return nil, err
	}
	sep, err := toString(args[1])
	if err != nil {
		return nil, err
	}
	if sep == "" {
		return nil, errors.New("native: empty separator")
	}
	parts := strings.Split(str, sep)
	items := make([]stackitem.Item, len(parts))
	for i, p := range parts {
		items[i] = stackitem.Make(p)
	}
	return stackitem.NewArray(items), nil
}
