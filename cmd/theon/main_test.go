package main

import (
	"testing"

	"github.com/hypatia-hypervisor/hypatia/kernel/config"
)

func TestSecondaryCPUsAssignsDistinctAPICIDsAndStacks(t *testing.T) {
	cpus := secondaryCPUs()
	if len(cpus) != config.MaxSecondaryCPUs {
		t.Fatalf("expected %d CPU entries, got %d", config.MaxSecondaryCPUs, len(cpus))
	}

	seen := make(map[uint32]bool)
	for i, c := range cpus {
		if c.APICID == 0 {
			t.Fatalf("entry %d: APIC ID 0 is reserved for the boot processor", i)
		}
		if seen[c.APICID] {
			t.Fatalf("entry %d: duplicate APIC ID %d", i, c.APICID)
		}
		seen[c.APICID] = true

		if c.StackTop == 0 {
			t.Fatalf("entry %d: expected a non-zero stack top", i)
		}
	}
}

func TestDerefPhysMatchesDirectMap(t *testing.T) {
	got := derefPhys(0x1000)
	want := config.HyperBase + 0x1000
	if got != want {
		t.Fatalf("derefPhys(0x1000) = %#x, want %#x", got, want)
	}
}
