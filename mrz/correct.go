package mrz

// CharClass is the character class a field position expects.
type CharClass int

const (
	AnyChar CharClass = iota
	Digits
	Letters
)

// confusions maps (expected class, observed character) to the character OCR
// most likely meant. Never mutated after init.
var confusions = map[CharClass]map[byte]byte{
	Digits: {
		'O': '0',
		'Q': '0',
		'U': '0',
		'D': '0',
		'I': '1',
		'Z': '2',
		'S': '5',
		'B': '8',
	},
	Letters: {
		'0': 'O',
		'1': 'I',
		'2': 'Z',
		'5': 'S',
		'8': 'B',
	},
}

// ClassOf returns the class of characters a field of type t may contain.
func ClassOf(t SemanticType) CharClass {
	switch t {
	case Numeric, DateField, CheckDigit:
		return Digits
	case AlphaText, CountryCode, Sex, Composite:
		return Letters
	default:
		return AnyChar
	}
}

// Correct replaces characters that are commonly misread for a member of
// class. The filler is never replaced and the result is stable under a
// second application.
func Correct(s string, class CharClass) string {
	b := []byte(s)
	correctBytes(b, class)
	return string(b)
}

func correctBytes(b []byte, class CharClass) {
	table, ok := confusions[class]
	if !ok {
		return
	}
	for i, c := range b {
		if c == Filler {
			continue
		}
		if r, ok := table[c]; ok {
			b[i] = r
		}
	}
}
