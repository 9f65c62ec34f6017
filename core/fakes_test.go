package core

import (
	"testing"

	"tinygo.org/x/drivers"
)

type pinEvent struct {
	pin   GPIOPin
	value bool
}

// fakeGPIO records every pin write
type fakeGPIO struct {
	outputs map[GPIOPin]bool
	events  []pinEvent
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{outputs: make(map[GPIOPin]bool)}
}

func (g *fakeGPIO) ConfigureOutput(pin GPIOPin) error {
	g.outputs[pin] = false
	return nil
}

func (g *fakeGPIO) SetPin(pin GPIOPin, value bool) error {
	g.outputs[pin] = value
	g.events = append(g.events, pinEvent{pin, value})
	return nil
}

func (g *fakeGPIO) GetPin(pin GPIOPin) (bool, error) {
	return g.outputs[pin], nil
}

// fakeSPIBus echoes a fixed reply and records what was sent
type fakeSPIBus struct {
	reply []byte
	sent  [][]byte
}

func (b *fakeSPIBus) Tx(w, r []byte) error {
	b.sent = append(b.sent, append([]byte(nil), w...))
	for i := range r {
		if i < len(b.reply) {
			r[i] = b.reply[i]
		}
	}
	return nil
}

func (b *fakeSPIBus) Transfer(w byte) (byte, error) {
	r := []byte{0}
	err := b.Tx([]byte{w}, r)
	return r[0], err
}

type fakeSPIDriver struct {
	bus     *fakeSPIBus
	configs []SPIConfig
}

func (d *fakeSPIDriver) ConfigureBus(config SPIConfig) (drivers.SPI, error) {
	d.configs = append(d.configs, config)
	return d.bus, nil
}

// setupLoopback registers the core commands, installs a Loopback and
// resets the firmware state for one test
func setupLoopback(t *testing.T, oids int) *Loopback {
	t.Helper()
	InitCoreCommands()
	RegisterStepperCommands()
	InitSPICommands()

	lb := &Loopback{}
	SetGlobalTransport(lb)
	ResetOids()
	ClearShutdown()
	clearTimers()
	SetTime(0)
	t.Cleanup(func() {
		SetGlobalTransport(nil)
		ResetOids()
		ClearShutdown()
		clearTimers()
	})

	if err := AllocateOids(oids); err != nil {
		t.Fatalf("AllocateOids failed: %v", err)
	}
	return lb
}
