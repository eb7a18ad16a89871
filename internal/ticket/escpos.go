// Package ticket renders kitchen tickets as ESC/POS byte streams.
package ticket

import "bytes"

const (
	esc = 0x1B
	gs  = 0x1D
)

// Alignment values for ESC a.
type Alignment byte

const (
	AlignLeft   Alignment = 0x00
	AlignCenter Alignment = 0x01
)

// Size values for ESC ! (print mode).
type Size byte

const (
	SizeNormal       Size = 0x00
	SizeDoubleHeight Size = 0x10
	SizeDouble       Size = 0x30
	SizeMega         Size = 0x3F
)

// Builder accumulates ESC/POS commands and text.
type Builder struct {
	buf bytes.Buffer
}

func (b *Builder) Init() *Builder {
	b.buf.Write([]byte{esc, '@'})
	return b
}

func (b *Builder) Align(a Alignment) *Builder {
	b.buf.Write([]byte{esc, 'a', byte(a)})
	return b
}

func (b *Builder) Bold(on bool) *Builder {
	v := byte(0x00)
	if on {
		v = 0x01
	}
	b.buf.Write([]byte{esc, 'E', v})
	return b
}

func (b *Builder) Size(s Size) *Builder {
	b.buf.Write([]byte{esc, '!', byte(s)})
	return b
}

// Text writes s as UTF-8 without a line feed.
func (b *Builder) Text(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// Line writes s followed by a line feed.
func (b *Builder) Line(s string) *Builder {
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
	return b
}

// Feed writes n empty lines.
func (b *Builder) Feed(n int) *Builder {
	for i := 0; i < n; i++ {
		b.buf.WriteByte('\n')
	}
	return b
}

// Cut emits a full paper cut (GS V 0).
func (b *Builder) Cut() *Builder {
	b.buf.Write([]byte{gs, 'V', 0x00})
	return b
}

// Bytes returns a copy of the accumulated stream.
func (b *Builder) Bytes() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// PlainText strips ESC/POS command sequences from a ticket, leaving the
// printable text. Used when a ticket has to be rendered for a screen.
func PlainText(payload []byte) string {
	out := make([]byte, 0, len(payload))
	for i := 0; i < len(payload); i++ {
		switch payload[i] {
		case esc:
			if i+1 < len(payload) && payload[i+1] == '@' {
				i++
				continue
			}
			i += 2
		case gs:
			i += 2
		default:
			out = append(out, payload[i])
		}
	}
	return string(out)
}
