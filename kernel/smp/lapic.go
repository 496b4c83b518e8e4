package smp

import (
	"github.com/hypatia-hypervisor/hypatia/kernel/config"
	"github.com/hypatia-hypervisor/hypatia/kernel/cpuhw"
)

// MSR numbers and IA32_APIC_BASE bits used to enable x2APIC mode and
// address the ICR.
const (
	msrAPICBase = 0x1B
	msrICR      = 0x830

	apicBaseX2APICEnable = 1 << 10
	apicBaseGlobalEnable = 1 << 11
)

// ICR field encodings. In x2APIC mode the ICR is a single 64-bit MSR: the
// 32-bit destination APIC ID sits in the upper half and the command word
// in the lower half.
const (
	deliveryModeInit    = 5
	deliveryModeStartup = 6

	destShorthandNone             = 0
	destShorthandAllExcludingSelf = 3

	bitTriggerLevel = 1 << 15
	bitLevelAssert  = 1 << 14
)

var (
	writeMSRFn = cpuhw.WriteMSR
	readMSRFn  = cpuhw.ReadMSR
)

// EnableX2APIC sets the x2APIC and global-enable bits in IA32_APIC_BASE.
// Must run before any IPI is issued, since sendICR uses the MSR-based
// ICR.
func EnableX2APIC() {
	base := readMSRFn(msrAPICBase)
	writeMSRFn(msrAPICBase, base|apicBaseX2APICEnable|apicBaseGlobalEnable)
}

// icrCommand packs the destination-shorthand, trigger-mode, level-assert,
// delivery-mode and vector fields into the ICR's low 32 bits.
func icrCommand(destShorthand uint32, edgeTriggered bool, levelAssert bool, deliveryMode uint32, vector uint32) uint32 {
	v := destShorthand<<18 | deliveryMode<<8 | vector
	if !edgeTriggered {
		v |= bitTriggerLevel
	}
	if levelAssert {
		v |= bitLevelAssert
	}
	return v
}

// sendICR issues one ICR write: destAPICID is only meaningful when the
// command's destination shorthand is destShorthandNone.
func sendICR(destAPICID uint32, command uint32) {
	val := uint64(destAPICID)<<32 | uint64(command)
	writeMSRFn(msrICR, val)
}

// broadcastInit sends an asserted INIT IPI to every CPU but the sender.
func broadcastInit() {
	cmd := icrCommand(destShorthandAllExcludingSelf, false, true, deliveryModeInit, 0)
	sendICR(0, cmd)
}

// sipiVector is the STARTUP vector: the physical page number of the SIPI
// page, per the x86 STARTUP IPI convention (the AP begins executing at
// vector*0x1000).
func sipiVector() uint32 { return uint32(config.SIPIFrameNumber) }

// broadcastStartup sends a STARTUP IPI to every CPU but the sender.
func broadcastStartup() {
	cmd := icrCommand(destShorthandAllExcludingSelf, true, false, deliveryModeStartup, sipiVector())
	sendICR(0, cmd)
}

// directedStartup sends a STARTUP IPI to exactly one CPU, used for the
// per-CPU retry after the broadcast SIPI's poll window expires.
func directedStartup(apicID uint32) {
	cmd := icrCommand(destShorthandNone, true, false, deliveryModeStartup, sipiVector())
	sendICR(apicID, cmd)
}
