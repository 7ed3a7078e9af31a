package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *ProtocolConfiguration {
	cfg := Default()
	cfg.StandbyCommittee = []string{"02a1", "02b2", "02c3", "02d4"}
	cfg.ValidatorsCount = 4
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*ProtocolConfiguration){
		"zero magic":          func(c *ProtocolConfiguration) { c.Magic = 0 },
		"empty committee":     func(c *ProtocolConfiguration) { c.StandbyCommittee = nil },
		"validators overflow": func(c *ProtocolConfiguration) { c.ValidatorsCount = 5 },
		"zero validators":     func(c *ProtocolConfiguration) { c.ValidatorsCount = 0 },
		"zero block time":     func(c *ProtocolConfiguration) { c.MSPerBlock = 0 },
		"duplicate key": func(c *ProtocolConfiguration) {
			c.StandbyCommittee = []string{"02a1", "02a1", "02c3", "02d4"}
		},
		"unknown hardfork": func(c *ProtocolConfiguration) {
			c.Hardforks = map[string]uint32{"Wyvern": 10}
		},
		"out-of-order hardforks": func(c *ProtocolConfiguration) {
			c.Hardforks = map[string]uint32{HFAspidochelone: 100, HFBasilisk: 50}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestHardforkEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Hardforks = map[string]uint32{HFAspidochelone: 100}
	require.NoError(t, cfg.Validate())

	require.False(t, cfg.HardforkEnabled(HFAspidochelone, 99))
	require.True(t, cfg.HardforkEnabled(HFAspidochelone, 100))
	require.False(t, cfg.HardforkEnabled(HFBasilisk, 1<<31))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "protocol.yml")
	body := `
Magic: 894710606
ValidatorsCount: 1
StandbyCommittee:
  - 02b3622bf4017bdfe317c58aed5f4c753f206b7db896046fa7d774bbc4bf7f8dc2
Hardforks:
  Aspidochelone: 0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(894710606), cfg.Magic)
	require.Equal(t, 1, cfg.ValidatorsCount)
	// Unset fields keep defaults.
	require.Equal(t, uint64(15000), cfg.MSPerBlock)

	_, err = Load(filepath.Join(dir, "absent.yml"))
	require.Error(t, err)
}
