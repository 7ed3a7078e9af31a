// Package params holds the startup-bound protocol settings: network identity,
// validator sets, hardfork schedule and the hard limits every subsystem
// enforces. None of this is on-chain state.
package params

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Network magics for the well-known chains.
const (
	MainNetMagic uint32 = 0x4e454f33
	TestNetMagic uint32 = 0x4e454f54
	UnitTestMagic uint32 = 0x74746e41
)

// Hardfork names in activation order.
const (
	HFAspidochelone = "Aspidochelone"
	HFBasilisk      = "Basilisk"
	HFCockatrice    = "Cockatrice"
	HFDomovoi       = "Domovoi"
)

var hardforkOrder = []string{HFAspidochelone, HFBasilisk, HFCockatrice, HFDomovoi}

var (
	ErrInvalidConfig = errors.New("params: invalid configuration")
)

// ProtocolConfiguration binds a node to a network. It is loaded once at
// startup and passed by reference; nothing mutates it afterwards.
type ProtocolConfiguration struct {
	Magic                       uint32            `yaml:"Magic"`
	AddressVersion              byte              `yaml:"AddressVersion"`
	StandbyCommittee            []string          `yaml:"StandbyCommittee"`
	ValidatorsCount             int               `yaml:"ValidatorsCount"`
	SeedList                    []string          `yaml:"SeedList"`
	MSPerBlock                  uint64            `yaml:"MillisecondsPerBlock"`
	MaxTraceableBlocks          uint32            `yaml:"MaxTraceableBlocks"`
	MaxTransactionsPerBlock     uint16            `yaml:"MaxTransactionsPerBlock"`
	MaxValidUntilBlockIncrement uint32            `yaml:"MaxValidUntilBlockIncrement"`
	MemPoolSize                 int               `yaml:"MemPoolSize"`
	InitialGASSupply            int64             `yaml:"InitialGASSupply"`
	Hardforks                   map[string]uint32 `yaml:"Hardforks"`
}

// Load reads and validates a configuration file.
func Load(path string) (*ProtocolConfiguration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("params: reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the baseline configuration used when a field is absent from
// the loaded file.
func Default() *ProtocolConfiguration {
	return &ProtocolConfiguration{
		Magic:                       TestNetMagic,
		AddressVersion:              0x35,
		MSPerBlock:                  15000,
		MaxTraceableBlocks:          2102400,
		MaxTransactionsPerBlock:     512,
		MaxValidUntilBlockIncrement: 5760,
		MemPoolSize:                 50000,
		InitialGASSupply:            52000000 * GASFactor,
		Hardforks:                   map[string]uint32{},
	}
}

// Validate enforces startup invariants; a failure refuses to start the node.
func (p *ProtocolConfiguration) Validate() error {
	if p.Magic == 0 {
		return fmt.Errorf("%w: zero network magic", ErrInvalidConfig)
	}
	if len(p.StandbyCommittee) == 0 {
		return fmt.Errorf("%w: empty standby committee", ErrInvalidConfig)
	}
	if p.ValidatorsCount <= 0 || p.ValidatorsCount > len(p.StandbyCommittee) {
		return fmt.Errorf("%w: validators count %d out of range (committee %d)",
			ErrInvalidConfig, p.ValidatorsCount, len(p.StandbyCommittee))
	}
	if p.MSPerBlock == 0 {
		return fmt.Errorf("%w: zero block time", ErrInvalidConfig)
	}
	if p.MaxValidUntilBlockIncrement == 0 {
		return fmt.Errorf("%w: zero valid-until increment", ErrInvalidConfig)
	}
	seen := map[string]bool{}
	for _, k := range p.StandbyCommittee {
		if seen[k] {
			return fmt.Errorf("%w: duplicate committee key %s", ErrInvalidConfig, k)
		}
		seen[k] = true
	}
	for name := range p.Hardforks {
		if !knownHardfork(name) {
			return fmt.Errorf("%w: unknown hardfork %q", ErrInvalidConfig, name)
		}
	}
	// Later forks must not activate before earlier ones.
	prev := uint32(0)
	for _, name := range hardforkOrder {
		h, ok := p.Hardforks[name]
		if !ok {
			continue
		}
		if h < prev {
			return fmt.Errorf("%w: hardfork %s at %d precedes an earlier fork at %d",
				ErrInvalidConfig, name, h, prev)
		}
		prev = h
	}
	return nil
}

// HardforkEnabled reports whether the named fork is active at the given
// height. A fork absent from the schedule never activates.
func (p *ProtocolConfiguration) HardforkEnabled(name string, height uint32) bool {
	h, ok := p.Hardforks[name]
	return ok && height >= h
}

// CommitteeSize returns the configured committee size.
func (p *ProtocolConfiguration) CommitteeSize() int {
	return len(p.StandbyCommittee)
}

// SortedHardforks returns the scheduled forks ordered by activation height.
func (p *ProtocolConfiguration) SortedHardforks() []string {
	out := make([]string, 0, len(p.Hardforks))
	for name := range p.Hardforks {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return p.Hardforks[out[i]] < p.Hardforks[out[j]] })
	return out
}

func knownHardfork(name string) bool {
	for _, n := range hardforkOrder {
		if n == name {
			return true
		}
	}
	return false
}
