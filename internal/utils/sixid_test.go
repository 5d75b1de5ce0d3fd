package utils

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSixID_StringRoundTrip(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewSixID()
		s := id.String()
		require.Len(t, s, 10)

		parsed, err := ParseSixID(s)
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestParseSixID_Leniency(t *testing.T) {
	id := SixID{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB}
	s := id.String()

	// Hyphens, spaces and lower case are tolerated.
	withNoise := s[:5] + "-" + s[5:]
	parsed, err := ParseSixID(withNoise)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	parsed, err = ParseSixID(" " + s + " ")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	parsed, err = ParseSixID(strings.ToLower(s))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	empty, err := ParseSixID("")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	_, err = ParseSixID("TOO-SHORT")
	assert.Error(t, err)
	_, err = ParseSixID("!!!!!!!!!!")
	assert.Error(t, err)
}

func TestSixID_IsZero(t *testing.T) {
	assert.True(t, SixID{}.IsZero())
	assert.False(t, NewSixID().IsZero())
}

func TestSixID_JSONRoundTrip(t *testing.T) {
	id := NewSixID()

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var decoded SixID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)

	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &decoded))
}
