package kernel

import (
	"os"
	"testing"

	"gopkg.in/yaml.v3"
	"gotest.tools/v3/assert"

	"github.com/xous-go/kernel/pkg/arch"
	"github.com/xous-go/kernel/pkg/mem"
)

type bootFixtureEntry struct {
	Satp       uint64 `yaml:"satp"`
	Entrypoint uint64 `yaml:"entrypoint"`
	SP         uint64 `yaml:"sp"`
}

type bootFixture struct {
	Descriptors []bootFixtureEntry `yaml:"descriptors"`
}

// loadBootFixture decodes a YAML boot-descriptor fixture from testdata/
// into the InitialProcess slice Boot expects, keeping scenario data out
// of Go source.
func loadBootFixture(t *testing.T, path string) []InitialProcess {
	t.Helper()
	data, err := os.ReadFile(path)
	assert.NilError(t, err)

	var fx bootFixture
	assert.NilError(t, yaml.Unmarshal(data, &fx))

	out := make([]InitialProcess, len(fx.Descriptors))
	for i, d := range fx.Descriptors {
		out[i] = InitialProcess{
			Satp:       uintptr(d.Satp),
			Entrypoint: uintptr(d.Entrypoint),
			SP:         uintptr(d.SP),
		}
	}
	return out
}

// resetKernel gives every test a fresh singleton and a clean MMU/register
// bank, since SystemServices, the active address space, and the active
// register bank are all process-wide globals.
func resetKernel(t *testing.T) {
	t.Helper()
	theKernel = newSystemServices()
	held.Store(false)
	mem.Reset()
	arch.Reset()
}
