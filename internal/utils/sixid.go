package utils

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// SixIDHookFunc defines the signature for the NewSixID test hook.
// It returns a SixID and a boolean indicating whether to override the default generation.
type SixIDHookFunc func() (id SixID, override bool)

// NewSixIDHook is a package-level variable that tests can set to override NewSixID behavior.
var NewSixIDHook SixIDHookFunc

// sixIDSubtype is the custom BSON binary subtype used to store SixIDs.
const sixIDSubtype = 0x80

// SixID is a 6-byte ID stored as BSON BinData with custom subtype 0x80.
// Its string form is 10 characters of Crockford Base32.
type SixID [6]byte

// NewSixID creates a new 6-byte SixID using random data.
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, override := NewSixIDHook(); override {
			return id
		}
	}

	var id SixID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand never fails on supported platforms; zero ID as last resort
		return SixID{}
	}
	return id
}

// Crockford Base32 alphabet (uppercase, no I, L, O, U).
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// crockfordDecode maps input bytes to their 5-bit values; 0xFF marks invalid input.
var crockfordDecode [256]byte

func init() {
	for i := range crockfordDecode {
		crockfordDecode[i] = 0xFF
	}
	for i := 0; i < len(crockfordAlphabet); i++ {
		c := crockfordAlphabet[i]
		crockfordDecode[c] = byte(i)
		if c >= 'A' && c <= 'Z' {
			crockfordDecode[c+('a'-'A')] = byte(i)
		}
	}
	// Commonly confused characters decode leniently
	crockfordDecode['o'] = 0
	crockfordDecode['O'] = 0
	crockfordDecode['i'] = 1
	crockfordDecode['I'] = 1
	crockfordDecode['l'] = 1
	crockfordDecode['L'] = 1
}

// String returns the Crockford Base32 (uppercase) representation of the SixID.
// 48 bits encode to exactly 10 characters.
func (u SixID) String() string {
	var out [10]byte
	var bits uint
	var acc uint64
	n := 0
	for i := 0; i < 6; i++ {
		acc |= uint64(u[i]) << bits
		bits += 8
		for bits >= 5 {
			out[n] = crockfordAlphabet[acc&0x1F]
			n++
			acc >>= 5
			bits -= 5
		}
	}
	if bits > 0 {
		out[n] = crockfordAlphabet[acc&0x1F]
		n++
	}
	return string(out[:n])
}

// ParseSixID parses a 10-character Crockford Base32 string into a SixID.
// Hyphens and spaces are stripped for leniency; an empty string parses to the zero ID.
func ParseSixID(s string) (SixID, error) {
	if s == "" {
		return SixID{}, nil
	}

	cleaned := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '-' || s[i] == ' ' {
			continue
		}
		cleaned = append(cleaned, s[i])
	}
	if len(cleaned) != 10 {
		return SixID{}, errors.New("invalid SixID: string length must be 10")
	}

	var id SixID
	var bits uint
	var acc uint64
	n := 0
	for i := 0; i < 10; i++ {
		val := crockfordDecode[cleaned[i]]
		if val == 0xFF {
			return SixID{}, fmt.Errorf("invalid SixID: illegal character %q", cleaned[i])
		}
		acc |= uint64(val) << bits
		bits += 5
		for bits >= 8 && n < 6 {
			id[n] = byte(acc & 0xFF)
			n++
			acc >>= 8
			bits -= 8
		}
	}
	if n != 6 {
		return SixID{}, errors.New("invalid SixID: could not decode 6 bytes")
	}
	return id, nil
}

// IsZero reports whether the ID is the all-zero value.
func (u SixID) IsZero() bool {
	return u == SixID{}
}

// MarshalBSONValue implements bson.ValueMarshaler, storing the ID as
// BinData with the custom subtype.
func (u SixID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bsontype.Binary, bsoncore.AppendBinary(nil, sixIDSubtype, u[:]), nil
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (u *SixID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null {
		*u = SixID{}
		return nil
	}
	if t != bsontype.Binary {
		return fmt.Errorf("invalid BSON type %s for SixID: expected binary", t)
	}
	subtype, raw, _, ok := bsoncore.ReadBinary(data)
	if !ok {
		return errors.New("corrupt BSON binary data for SixID")
	}
	if subtype != sixIDSubtype || len(raw) != 6 {
		return errors.New("invalid BSON binary data for SixID: incorrect subtype or length")
	}
	copy((*u)[:], raw)
	return nil
}

// MarshalJSON marshals the SixID as a JSON string in Crockford Base32 format.
func (u SixID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON unmarshals a SixID from a JSON string in Crockford Base32 format.
func (u *SixID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSixID(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (u SixID) MarshalBinary() ([]byte, error) {
	return u[:], nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (u *SixID) UnmarshalBinary(data []byte) error {
	if len(data) != 6 {
		return errors.New("invalid SixID length")
	}
	copy((*u)[:], data)
	return nil
}
