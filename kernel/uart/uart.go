// Package uart drives the ns16550 serial port that is the loader's only
// output channel. It implements kfmt.Writer so kernel/kfmt.Printf
// can write directly to it.
package uart

import "github.com/hypatia-hypervisor/hypatia/kernel/cpuhw"

const (
	comPort = 0x3F8

	regData = comPort + 0 // DLAB=0: transmit/receive holding register
	regIER  = comPort + 1 // interrupt enable register
	regFCR  = comPort + 2 // FIFO control register
	regLCR  = comPort + 3 // line control register
	regMCR  = comPort + 4 // modem control register
	regLSR  = comPort + 5 // line status register
	regDLL  = comPort + 0 // DLAB=1: divisor latch low
	regDLM  = comPort + 1 // DLAB=1: divisor latch high

	lcrDLAB   = 1 << 7
	lcr8N1    = 0x03
	fcrEnable = 0xC7 // enable FIFO, clear, 14-byte trigger
	mcrRTSDTR = 0x0B

	lsrTxHoldingEmpty = 1 << 5

	divisorFor115200 = 1
)

// portIO is the seam tests substitute to avoid touching real hardware.
type portIO interface {
	Outb(port uint16, value uint8)
	Inb(port uint16) uint8
}

type hwPortIO struct{}

func (hwPortIO) Outb(port uint16, value uint8) { cpuhw.Outb(port, value) }
func (hwPortIO) Inb(port uint16) uint8         { return cpuhw.Inb(port) }

// Port drives a single ns16550-compatible UART.
type Port struct {
	io portIO
}

// New returns a Port bound to the real ns16550 hardware at 0x3F8.
func New() *Port {
	return &Port{io: hwPortIO{}}
}

// Init configures the port for 115200 8N1 with FIFOs enabled.
func (p *Port) Init() {
	p.io.Outb(regIER, 0x00) // disable interrupts

	p.io.Outb(regLCR, lcrDLAB)
	p.io.Outb(regDLL, divisorFor115200&0xFF)
	p.io.Outb(regDLM, (divisorFor115200>>8)&0xFF)

	p.io.Outb(regLCR, lcr8N1)
	p.io.Outb(regFCR, fcrEnable)
	p.io.Outb(regMCR, mcrRTSDTR)
}

func (p *Port) txReady() bool {
	return p.io.Inb(regLSR)&lsrTxHoldingEmpty != 0
}

// WriteByte transmits a single byte, prefixing '\n' with '\r'.
func (p *Port) WriteByte(b byte) {
	if b == '\n' {
		p.putRaw('\r')
	}
	p.putRaw(b)
}

func (p *Port) putRaw(b byte) {
	for !p.txReady() {
		cpuhw.Pause()
	}
	p.io.Outb(regData, b)
}

// Write transmits each byte of p in order, implementing kfmt.Writer.
func (p *Port) Write(buf []byte) {
	for _, b := range buf {
		p.WriteByte(b)
	}
}
