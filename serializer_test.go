package glacialcache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string
	Count int
}

func TestBinaryPacked_RoundTrip(t *testing.T) {
	s := BinaryPacked[sample]()
	data, err := s.Encode(sample{Name: "a", Count: 3})
	require.NoError(t, err)

	decoded, err := s.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sample{Name: "a", Count: 3}, decoded)
	assert.Equal(t, SerializerBinaryPacked, s.Tag)
}

func TestJSONBytes_RoundTrip(t *testing.T) {
	s := JSONBytes[sample]()
	data, err := s.Encode(sample{Name: "b", Count: 7})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"b"`)

	decoded, err := s.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sample{Name: "b", Count: 7}, decoded)
	assert.Equal(t, SerializerJSONBytes, s.Tag)
}

func TestCustomSerializer_UsesSuppliedFunctions(t *testing.T) {
	s := CustomSerializer(
		func(v int) ([]byte, error) { return []byte{byte(v)}, nil },
		func(data []byte) (int, error) {
			if len(data) != 1 {
				return 0, errors.New("bad length")
			}
			return int(data[0]), nil
		},
	)

	data, err := s.Encode(42)
	require.NoError(t, err)
	decoded, err := s.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 42, decoded)
	assert.Equal(t, SerializerCustom, s.Tag)
}
