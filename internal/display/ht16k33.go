package display

import (
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// HT16K33 drives a 4 digit 7-segment backpack over I2C.
type HT16K33 struct {
	mu         sync.Mutex
	dev        *i2c.Dev
	closer     i2c.BusCloser
	ram        [displayRAMLength]byte
	brightness float64
	ready      bool
}

// OpenHT16K33 initialises the host drivers, opens the named I2C bus (empty
// for the first one found) and brings the controller up.
func OpenHT16K33(busName string, addr uint16) (*HT16K33, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise host drivers: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", busName, err)
	}

	d := NewHT16K33(bus, addr)
	d.closer = bus
	if err := d.Init(); err != nil {
		bus.Close()
		return nil, err
	}
	return d, nil
}

// NewHT16K33 wraps an already opened bus. Init must be called before use.
func NewHT16K33(bus i2c.Bus, addr uint16) *HT16K33 {
	if addr == 0 {
		addr = DefaultI2CAddr
	}
	return &HT16K33{
		dev:        &i2c.Dev{Bus: bus, Addr: addr},
		brightness: 1.0,
	}
}

// Init starts the oscillator, blanks the display and switches it on at
// full brightness.
func (d *HT16K33) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.command(CmdSystemSetup | OscillatorOn); err != nil {
		return fmt.Errorf("failed to start oscillator: %w", err)
	}
	d.ram = [displayRAMLength]byte{}
	if err := d.flush(); err != nil {
		return err
	}
	if err := d.command(CmdDisplaySetup | DisplayOn); err != nil {
		return fmt.Errorf("failed to enable display: %w", err)
	}
	if err := d.command(CmdDimming | MaxDimmingLevel); err != nil {
		return fmt.Errorf("failed to set brightness: %w", err)
	}
	d.brightness = 1.0
	d.ready = true
	return nil
}

func (d *HT16K33) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ready {
		return nil
	}
	d.ready = false
	err := d.command(CmdDisplaySetup)
	if d.closer != nil {
		if cerr := d.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (d *HT16K33) Print(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, r := range []rune(Fit(text)) {
		d.ram[digitColumns[i]*2] = Glyph(r)
	}
	return d.flush()
}

func (d *HT16K33) SetColon(on bool) error {
	return d.setAux(SegColon, on)
}

func (d *HT16K33) SetIndicator(ind Indicator, on bool) error {
	bit, ok := indicatorSegments[ind]
	if !ok {
		return fmt.Errorf("unknown indicator %s", ind)
	}
	return d.setAux(bit, on)
}

func (d *HT16K33) SetBrightness(level float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	level = ClampBrightness(level)
	step := byte(math.Round(level * MaxDimmingLevel))
	if err := d.command(CmdDimming | step); err != nil {
		return fmt.Errorf("failed to set brightness: %w", err)
	}
	d.brightness = level
	return nil
}

func (d *HT16K33) Brightness() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brightness
}

func (d *HT16K33) setAux(bit byte, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if on {
		d.ram[auxColumn*2] |= bit
	} else {
		d.ram[auxColumn*2] &^= bit
	}
	return d.flush()
}

// flush writes the whole display RAM starting at address 0.
func (d *HT16K33) flush() error {
	buf := make([]byte, 0, displayRAMLength+1)
	buf = append(buf, 0x00)
	buf = append(buf, d.ram[:]...)
	if _, err := d.dev.Write(buf); err != nil {
		return fmt.Errorf("failed to write display ram: %w", err)
	}
	return nil
}

func (d *HT16K33) command(cmd byte) error {
	_, err := d.dev.Write([]byte{cmd})
	return err
}
