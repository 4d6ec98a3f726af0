// Package format turns boosted entity details into chat-ready notification payloads.
//
// Everything here is pure: no I/O, no clock reads. Callers pass "now" in.
package format

// Colors (RGB) carried on payloads. Telegram ignores them; they are kept so
// payloads stay platform-neutral and can be rendered as embeds elsewhere.
const (
	ColorCreature = 0x00ff88
	ColorBoss     = 0xff4444
	ColorInfo     = 0x3498db
	ColorError    = 0xe74c3c
	ColorSchedule = 0x9b59b6
)

const (
	FooterData = "TibiaBot | Data from TibiaData API"
	FooterBot  = "TibiaBot"
)

// Field is a labeled block of a payload. Values may use **bold** markers.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Payload is a structured notification, independent of the chat platform.
type Payload struct {
	Title       string
	Description string
	Fields      []Field
	Color       int
	ImageURL    string
	Footer      string
}

// Field returns the first field with the given name.
func (p Payload) Field(name string) (Field, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (p *Payload) add(name, value string, inline bool) {
	p.Fields = append(p.Fields, Field{Name: name, Value: value, Inline: inline})
}
