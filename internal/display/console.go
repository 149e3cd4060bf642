package display

import (
	"fmt"
	"io"
	"sync"
)

// Frame is the visible content of the display.
type Frame struct {
	Text       string  `json:"text"`
	Colon      bool    `json:"colon"`
	PM         bool    `json:"pm"`
	Busy       bool    `json:"busy"`
	Brightness float64 `json:"brightness"`
}

func (f Frame) String() string {
	colon := ' '
	if f.Colon {
		colon = ':'
	}
	r := []rune(Fit(f.Text))
	out := fmt.Sprintf("[%s%c%s]", string(r[:2]), colon, string(r[2:]))
	if f.PM {
		out += " pm"
	}
	if f.Busy {
		out += " *"
	}
	return fmt.Sprintf("%s %3.0f%%", out, f.Brightness*100)
}

// Console renders frames as text lines. It stands in for the LED backpack
// on machines without one. A nil writer keeps the frame in memory only.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	frame Frame
}

func NewConsole(out io.Writer) *Console {
	return &Console{
		out:   out,
		frame: Frame{Text: Fit(""), Brightness: 1.0},
	}
}

// Frame returns the current display content.
func (c *Console) Frame() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

func (c *Console) Print(text string) error {
	return c.update(func(f *Frame) { f.Text = Fit(text) })
}

func (c *Console) SetColon(on bool) error {
	return c.update(func(f *Frame) { f.Colon = on })
}

func (c *Console) SetIndicator(ind Indicator, on bool) error {
	switch ind {
	case IndicatorPM:
		return c.update(func(f *Frame) { f.PM = on })
	case IndicatorBusy:
		return c.update(func(f *Frame) { f.Busy = on })
	default:
		return fmt.Errorf("unknown indicator %s", ind)
	}
}

func (c *Console) SetBrightness(level float64) error {
	return c.update(func(f *Frame) { f.Brightness = ClampBrightness(level) })
}

func (c *Console) Brightness() float64 {
	return c.Frame().Brightness
}

func (c *Console) update(apply func(*Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	apply(&c.frame)
	if c.out == nil {
		return nil
	}
	_, err := fmt.Fprintln(c.out, c.frame.String())
	return err
}
