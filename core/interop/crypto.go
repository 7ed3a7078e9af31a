package interop

import (
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/vm"
	"github.com/gneo-network/gneo/vm/callflag"
	"github.com/gneo-network/gneo/vm/stackitem"
)

// CheckSigPrice is the base tariff of one signature verification; the
// multisig variant scales with the key count.
const CheckSigPrice = 1 << 15

func cryptoCheckSig(ic *Context) error {
	keyBytes, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	sig, err := ic.VM.Estack().PopBytes()
	if err != nil {
		return err
	}
	key, err := crypto.NewPublicKeyFromBytes(keyBytes)
	if err != nil {
		return err
	}
	ok := key.VerifyHashable(ic.Cfg.Magic, ic.Container(), sig)
	ic.VM.Estack().PushVal(ok)
	return nil
}

// popSigElements accepts either an array of byte strings or the counted form
// the canonical multisig script emits (count on top, elements below).
func popSigElements(s *vm.Stack) ([][]byte, error) {
	item, err := s.Pop()
	if err != nil {
		return nil, err
	}
	var elems []stackitem.Item
	switch v := item.(type) {
	case *stackitem.Array:
		elems = v.Value()
	default:
		count, err := item.TryInteger()
		if err != nil || !count.IsInt64() || count.Sign() <= 0 || count.Int64() > 1024 {
			return nil, errors.New("interop: bad signature element count")
		}
		elems = make([]stackitem.Item, count.Int64())
		for i := range elems {
			elems[i], err = s.Pop()
			if err != nil {
				return nil, err
			}
		}
	}
	out := make([][]byte, len(elems))
	for i, e := range elems {
		b, err := e.TryBytes()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func cryptoCheckMultisig(ic *Context) error {
	keyBytes, err := popSigElements(ic.VM.Estack())
	if err != nil {
		return err
	}
	sigs, err := popSigElements(ic.VM.Estack())
	if err != nil {
		return err
	}
	n := len(keyBytes)
	m := len(sigs)
	if n == 0 || m == 0 || m > n {
		return fmt.Errorf("interop: %d signatures against %d keys", m, n)
	}
	// The variable part of the price scales with the key count.
	if err := ic.AddGas(int64(n-1) * CheckSigPrice * ic.ExecFeeFactor); err != nil {
		return err
	}
	keys := make([]*crypto.PublicKey, n)
	for i, b := range keyBytes {
		keys[i], err = crypto.NewPublicKeyFromBytes(b)
		if err != nil {
			return err
		}
	}
	container := ic.Container()
	// Signatures and keys share an order; each key verifies at most once.
	ki := 0
	matched := 0
	for si := 0; si < m; si++ {
		sig := sigs[si]
		for ki < n {
			if keys[ki].VerifyHashable(ic.Cfg.Magic, container, sig) {
				matched++
				ki++
				break
			}
			ki++
		}
		if n-ki < m-si-1 {
			break
		}
	}
	ic.VM.Estack().PushVal(matched == m)
	return nil
}

func init() {
	Register("System.Crypto.CheckSig", CheckSigPrice, callflag.NoneFlag, cryptoCheckSig)
	Register("System.Crypto.CheckMultisig", CheckSigPrice, callflag.NoneFlag, cryptoCheckMultisig)
}
