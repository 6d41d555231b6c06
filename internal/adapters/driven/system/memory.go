package system

import (
	"fmt"

	"github.com/shirou/gopsutil/mem"

	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Ensure HostMemory implements the interface.
var _ driven.MemoryProbe = HostMemory{}

// HostMemory reads available memory from the host.
type HostMemory struct{}

// AvailableMB returns memory available to new allocations, in MiB.
func (HostMemory) AvailableMB() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("reading memory stats: %w", err)
	}
	return vm.Available / (1024 * 1024), nil
}
