package frame

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeToMap(t *testing.T, f Frame) map[string]interface{} {
	t.Helper()
	line, err := f.Encode()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &m))
	return m
}

func TestEncodeOmitsAbsentFields(t *testing.T) {
	m := decodeToMap(t, New(Ping))

	assert.Equal(t, "ping", m["type"])
	assert.Contains(t, m, "ts")
	// Exactly ts and type; no null-valued leftovers.
	assert.Len(t, m, 2)
}

func TestEncodeKeepsExitCodeZero(t *testing.T) {
	m := decodeToMap(t, New(Exit).WithExitCode(0))

	require.Contains(t, m, "code")
	assert.Equal(t, float64(0), m["code"])
}

func TestEncodeResizePayload(t *testing.T) {
	m := decodeToMap(t, New(Resize).WithSize(200, 50))

	assert.Equal(t, float64(200), m["cols"])
	assert.Equal(t, float64(50), m["rows"])
	assert.NotContains(t, m, "data")
}

func TestBinaryDataIsBase64(t *testing.T) {
	f := New(Stdout).WithBinaryData([]byte{0xff, 0xfe, 0x00})

	assert.True(t, f.Binary)
	assert.Equal(t, "//4A", f.DataString())
}

func TestDecodeRoundTrip(t *testing.T) {
	orig := New(Idle).WithDuration(250)
	line, err := orig.Encode()
	require.NoError(t, err)

	got, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, Idle, got.Type)
	assert.Equal(t, uint64(250), got.DurMs)
	assert.Equal(t, orig.Ts, got.Ts)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("{not json")
	assert.Error(t, err)
}

func TestPayloadLen(t *testing.T) {
	assert.Equal(t, 0, New(Idle).PayloadLen())
	assert.Equal(t, 5, New(Stdout).WithData("hello").PayloadLen())
}

func TestBuilderDoesNotMutateOriginal(t *testing.T) {
	base := New(Stdout)
	withData := base.WithData("x")

	assert.Nil(t, base.Data)
	assert.Equal(t, "x", withData.DataString())
}
