package display

// HT16K33 command bytes.
const (
	CmdSystemSetup   = 0x20 // | 0x01 turns the oscillator on
	CmdDisplaySetup  = 0x80 // | 0x01 display on, | blink<<1
	CmdDimming       = 0xE0 // | level 0-15
	OscillatorOn     = 0x01
	DisplayOn        = 0x01
	MaxDimmingLevel  = 15
	DefaultI2CAddr   = 0x70
	displayRAMLength = 16
)

// Layout of the 1.2" 7-segment backpack: digits live in columns 0, 1, 3
// and 4; column 2 carries the colon and the auxiliary dots.
var digitColumns = [Width]int{0, 1, 3, 4}

const (
	auxColumn     = 2
	SegColon      = 0x02
	SegTopLeft    = 0x04
	SegBottomLeft = 0x08
	SegRightDot   = 0x10
)

// indicatorSegments maps indicators to their bit in the aux column.
var indicatorSegments = map[Indicator]byte{
	IndicatorPM:   SegTopLeft,
	IndicatorBusy: SegBottomLeft,
}

// 7-segment glyphs, bit 0 = segment a ... bit 6 = segment g.
var glyphs = map[rune]byte{
	' ': 0x00,
	'-': 0x40,
	'_': 0x08,
	'0': 0x3F,
	'1': 0x06,
	'2': 0x5B,
	'3': 0x4F,
	'4': 0x66,
	'5': 0x6D,
	'6': 0x7D,
	'7': 0x07,
	'8': 0x7F,
	'9': 0x6F,
	'A': 0x77,
	'B': 0x7C,
	'C': 0x39,
	'D': 0x5E,
	'E': 0x79,
	'F': 0x71,
	'G': 0x3D,
	'H': 0x76,
	'I': 0x30,
	'J': 0x1E,
	'L': 0x38,
	'N': 0x54,
	'O': 0x3F,
	'P': 0x73,
	'Q': 0x67,
	'R': 0x50,
	'S': 0x6D,
	'T': 0x78,
	'U': 0x3E,
	'Y': 0x6E,
	'b': 0x7C,
	'c': 0x58,
	'd': 0x5E,
	'h': 0x74,
	'i': 0x10,
	'l': 0x30,
	'n': 0x54,
	'o': 0x5C,
	'r': 0x50,
	's': 0x6D,
	't': 0x78,
	'u': 0x1C,
	'y': 0x6E,
}

// Glyph returns the segment pattern for r. Lowercase letters without their
// own glyph use the uppercase form; anything else is blank.
func Glyph(r rune) byte {
	if g, ok := glyphs[r]; ok {
		return g
	}
	if r >= 'a' && r <= 'z' {
		if g, ok := glyphs[r-'a'+'A']; ok {
			return g
		}
	}
	return 0x00
}
