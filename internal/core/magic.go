package core

import "bytes"

// MagicSize is the length of the on-device magic, the key plus a NUL.
const MagicSize = 9

// magicKey is the ASCII key stamped at the front of every live block record.
var magicKey = [MagicSize]byte{'p', 'h', 'y', 'l', 'u', 'm', '0', '0', 0}

// Magic is the 9-byte marker that distinguishes written records from erased
// flash.
type Magic [MagicSize]byte

// FillMagic returns a valid magic.
func FillMagic() Magic {
	return Magic(magicKey)
}

// Valid reports whether the magic matches the key.
func (m Magic) Valid() bool {
	return bytes.Equal(m[:], magicKey[:])
}
