// Package fsname converts between host filenames and the ABC
// operating system's fixed 8.3, space-padded 11-byte directory entry
// format. The character set is the Swedish 7-bit variant ABC BASIC
// uses, where the bytes '@', '[', '\', ']', '^' stand in for
// É/Ä/Ö/Å/Ü (and, ambiguously, Æ/Ø collapse onto the same bytes as
// Ä/Ö — a lossy quirk of the original character set, not a bug here).
package fsname

import (
	"strings"
)

// Len is the fixed width of an ABC directory entry name: 8 name bytes
// followed by 3 extension bytes, space-padded, no embedded dot.
const Len = 11

var mangleTable = map[rune]byte{
	'É': '@', 'é': '@',
	'Ä': '[', 'ä': '[', 'Æ': '[', 'æ': '[',
	'Ö': '\\', 'ö': '\\', 'Ø': '\\', 'ø': '\\',
	'Å': ']', 'å': ']',
	'Ü': '^', 'ü': '^',
}

// stripPath returns the final path component of name, recognizing
// both '/' and '\' separators since source filenames may originate
// from either host convention.
func stripPath(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Mangle converts a host filename into an 11-byte ABC directory
// entry name. Unrecognized characters become '_'. A '.' in the source
// repositions the write cursor to the extension field (byte 8)
// without itself being written. Name characters past the eighth run
// on into the extension bytes, where a following extension overwrites
// them; once all 11 bytes have been written the rest of the source,
// dot and extension included, is ignored. Over-long names are
// truncated rather than rejected.
func Mangle(name string) [Len]byte {
	var dst [Len]byte
	for i := range dst {
		dst[i] = ' '
	}

	src := stripPath(name)
	pos := 0
	for _, r := range src {
		if pos >= Len {
			break
		}
		var dc byte
		switch {
		case r >= '0' && r <= '9':
			dc = byte(r)
		case r >= 'A' && r <= 'Z':
			dc = byte(r)
		case r >= 'a' && r <= 'z':
			dc = byte(r - 'a' + 'A')
		case r == '_':
			dc = '_'
		case r == '.':
			dc = '.'
		default:
			if v, ok := mangleTable[r]; ok {
				dc = v
			} else {
				dc = '_'
			}
		}
		if dc == '.' {
			pos = 8
			continue
		}
		dst[pos] = dc
		pos++
	}
	return dst
}

func lowerByte(b byte) rune {
	switch {
	case b == '@':
		return 'é'
	case b >= 'A' && b <= 'Z':
		return rune(b - 'A' + 'a')
	case b == '[':
		return 'ä'
	case b == '\\':
		return 'ö'
	case b == ']':
		return 'å'
	case b == '^':
		return 'ü'
	case b == 0x7F:
		return 0xFF
	default:
		return rune(b)
	}
}

// Unmangle is Mangle's inverse: it lowercases the name portion,
// rejoins the extension with a dot unless the extension is blank or
// the special directory marker "Ufd", and trims the fixed-width
// padding.
func Unmangle(mangled [Len]byte) string {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		if mangled[i] != ' ' {
			b.WriteRune(lowerByte(mangled[i]))
		}
	}
	ext := mangled[8:11]
	if string(ext) != "   " && string(ext) != "Ufd" {
		b.WriteByte('.')
		for i := 0; i < 3; i++ {
			if ext[i] != ' ' {
				b.WriteRune(lowerByte(ext[i]))
			}
		}
	}
	return b.String()
}

// ForReaddir mangles name and accepts it only if unmangling the
// result reproduces name exactly — i.e. the name is representable in
// the ABC charset without lossy truncation or substitution. On
// success it returns the compact 8.3 form (padding stripped, dot
// present only when there's an extension); on failure ok is false.
func ForReaddir(name string) (compact string, ok bool) {
	mangled := Mangle(name)
	if Unmangle(mangled) != name {
		return "", false
	}

	var b strings.Builder
	for i := 0; i < 8; i++ {
		if mangled[i] != ' ' {
			b.WriteByte(mangled[i])
		}
	}
	ext := mangled[8:11]
	if string(ext) != "   " {
		b.WriteByte('.')
		for i := 0; i < 3; i++ {
			if ext[i] != ' ' {
				b.WriteByte(ext[i])
			}
		}
	}
	return b.String(), true
}
