package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gneo-network/gneo/common"
	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/wire"
)

// MaxManifestSize bounds a serialized manifest.
const MaxManifestSize = 0xFFFF

var (
	ErrBadManifest = errors.New("state: invalid manifest")
)

// MethodDescriptor describes one ABI method.
type MethodDescriptor struct {
	Name       string `json:"name"`
	Offset     int    `json:"offset"`
	Parameters int    `json:"parameters"`
	ReturnType string `json:"returntype"`
	Safe       bool   `json:"safe"`
}

// EventDescriptor describes one ABI event.
type EventDescriptor struct {
	Name       string `json:"name"`
	Parameters int    `json:"parameters"`
}

// Group is a manifest group: a public key plus its signature over the
// contract hash.
type Group struct {
	PublicKey []byte `json:"pubkey"`
	Signature []byte `json:"signature"`
}

// Permission names a contract (or wildcard) and the methods callable on it.
type Permission struct {
	Contract string   `json:"contract"`
	Methods  []string `json:"methods"`
}

// Manifest declares a contract's surface and permissions.
type Manifest struct {
	Name               string             `json:"name"`
	Groups             []Group            `json:"groups"`
	SupportedStandards []string           `json:"supportedstandards"`
	Methods            []MethodDescriptor `json:"abi_methods"`
	Events             []EventDescriptor  `json:"abi_events"`
	Permissions        []Permission       `json:"permissions"`
}

// IsValid checks structural well-formedness against the contract's script.
func (m *Manifest) IsValid(scriptLen int) error {
	if m.Name == "" {
		return fmt.Errorf("%w: empty name", ErrBadManifest)
	}
	seen := make(map[string]bool, len(m.Methods))
	for i := range m.Methods {
		md := &m.Methods[i]
		if md.Name == "" {
			return fmt.Errorf("%w: empty method name", ErrBadManifest)
		}
		if md.Offset < 0 || md.Offset >= scriptLen {
			return fmt.Errorf("%w: method %s offset %d outside script", ErrBadManifest, md.Name, md.Offset)
		}
		key := fmt.Sprintf("%s/%d", md.Name, md.Parameters)
		if seen[key] {
			return fmt.Errorf("%w: duplicate method %s", ErrBadManifest, md.Name)
		}
		seen[key] = true
	}
	return nil
}

// Method finds a method by name and parameter count (-1 matches any count).
func (m *Manifest) Method(name string, paramCount int) *MethodDescriptor {
	for i := range m.Methods {
		if m.Methods[i].Name == name &&
			(paramCount < 0 || m.Methods[i].Parameters == paramCount) {
			return &m.Methods[i]
		}
	}
	return nil
}

// Contract is a deployed contract record.
type Contract struct {
	ID            int32
	UpdateCounter uint16
	Hash          common.Uint160
	Script        []byte
	Manifest      Manifest
}

// CreateContractHash computes the deployment hash of a contract: sender,
// script checksum and name bind the identity.
func CreateContractHash(sender common.Uint160, checksum uint32, name string) common.Uint160 {
	w := wire.NewBufBinWriter()
	w.WriteBytes(sender[:])
	w.WriteU32LE(checksum)
	w.WriteString(name)
	return crypto.Hash160(w.Bytes())
}

// ScriptChecksum is the NEF-style checksum over the script.
func ScriptChecksum(script []byte) uint32 {
	h := crypto.Hash256(script)
	return uint32(h[0]) | uint32(h[1])<<8 | uint32(h[2])<<16 | uint32(h[3])<<24
}

// EncodeBinary implements wire.Serializable.
func (c *Contract) EncodeBinary(w *wire.BinWriter) {
	w.WriteU32LE(uint32(c.ID))
	w.WriteU16LE(c.UpdateCounter)
	w.WriteBytes(c.Hash[:])
	w.WriteVarBytes(c.Script)
	raw, err := json.Marshal(&c.Manifest)
	if err != nil {
		w.Err = err
		return
	}
	w.WriteVarBytes(raw)
}

// DecodeBinary implements wire.Serializable.
func (c *Contract) DecodeBinary(r *wire.BinReader) {
	c.ID = int32(r.ReadU32LE())
	c.UpdateCounter = r.ReadU16LE()
	r.ReadBytes(c.Hash[:])
	c.Script = r.ReadVarBytes(wire.MaxArraySize)
	raw := r.ReadVarBytes(MaxManifestSize)
	if r.Err != nil {
		return
	}
	if err := json.Unmarshal(raw, &c.Manifest); err != nil {
		r.Err = fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
}
