// Package cpuhw declares the amd64 instructions the loader needs and that
// Go cannot express directly: halting, port I/O, control-register access,
// TLB invalidation, the time-stamp counter, MSR access and descriptor-table
// loads. Each function here is a bodyless Go declaration whose body lives
// in cpuhw_amd64.s.
package cpuhw

// Halt stops instruction execution until the next interrupt, then loops:
// used as the terminal state after a panic and as the AP idle state.
func Halt()

// EnableInterrupts sets the interrupt flag (STI).
func EnableInterrupts()

// DisableInterrupts clears the interrupt flag (CLI).
func DisableInterrupts()

// Pause executes a PAUSE instruction, the recommended spin-wait hint for
// the busy-wait loops in kernel/smp.
func Pause()

// ReadCR3 returns the current value of CR3 (the active page table root).
func ReadCR3() uintptr

// WriteCR3 loads CR3 with the given value, which both switches the active
// page table and flushes all non-global TLB entries.
func WriteCR3(value uintptr)

// InvalidatePage flushes the TLB entry for a single virtual address
// (INVLPG), used after targeted PTE mutations instead of a full CR3
// reload.
func InvalidatePage(virtAddr uintptr)

// ReadTSC returns the current value of the time-stamp counter (RDTSC),
// used to approximate the busy-wait windows in the AP bring-up sequence.
func ReadTSC() uint64

// Outb writes a byte to the given I/O port.
func Outb(port uint16, value uint8)

// Inb reads a byte from the given I/O port.
func Inb(port uint16) uint8

// ReadMSR returns the value of the given model-specific register (RDMSR).
func ReadMSR(msr uint32) uint64

// WriteMSR sets the given model-specific register (WRMSR), used to
// configure x2APIC mode and issue IPIs via the ICR MSR.
func WriteMSR(msr uint32, value uint64)

// LoadGDT loads the global descriptor table from the given descriptor
// pointer (LGDT).
func LoadGDT(descriptorPtr uintptr)

// LoadIDT loads the interrupt descriptor table from the given descriptor
// pointer (LIDT).
func LoadIDT(descriptorPtr uintptr)

// LoadTR loads the task register with the given selector (LTR).
func LoadTR(selector uint16)
