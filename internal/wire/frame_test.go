package wire

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTripsMapOfMapAndListOfAny(t *testing.T) {
	original := map[string]any{
		"a": []any{1.0, "two", map[string]any{"three": 3.0}},
		"b": map[string]any{
			"nested": map[string]any{"deep": []any{true, nil}},
		},
	}
	v, err := FromAny(original)
	require.NoError(t, err)

	encoded, err := v.MarshalJSON()
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, decoded.UnmarshalJSON(encoded))

	if diff := cmp.Diff(v.ToAny(), decoded.ToAny()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestValuePreservesIntVsDouble(t *testing.T) {
	v, err := ParseValue([]byte(`{"i": 42, "f": 42.5}`))
	require.NoError(t, err)

	i, ok := v.Field("i")
	require.True(t, ok)
	iv, ok := i.AsInt()
	require.True(t, ok)
	require.Equal(t, int64(42), iv)
	_, isDouble := i.AsDouble()
	require.True(t, isDouble) // ints are also readable as double

	f, ok := v.Field("f")
	require.True(t, ok)
	_, ok = f.AsInt()
	require.False(t, ok, "42.5 must not be readable as an exact int")
	fv, ok := f.AsDouble()
	require.True(t, ok)
	require.Equal(t, 42.5, fv)
}

func TestDecodeRejectsOversizeFrame(t *testing.T) {
	huge := `{"type":"event","event":"x","payload":"` + strings.Repeat("a", MaxFrameSize) + `"}`
	_, err := Decode([]byte(huge))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeRequiresType(t *testing.T) {
	_, err := Decode([]byte(`{"id":"1"}`))
	require.ErrorIs(t, err, ErrMissingType)
}

func TestUnknownTopLevelKeysSurviveRoundTrip(t *testing.T) {
	raw := []byte(`{"type":"rpc.req","id":"1","method":"node.list","params":{},"xExtra":true}`)
	e, err := Decode(raw)
	require.NoError(t, err)

	extra, ok := e.Get("xExtra")
	require.True(t, ok)
	b, ok := extra.AsBool()
	require.True(t, ok)
	require.True(t, b)

	out, err := e.Encode()
	require.NoError(t, err)

	e2, err := Decode(out)
	require.NoError(t, err)
	extra2, ok := e2.Get("xExtra")
	require.True(t, ok)
	b2, _ := extra2.AsBool()
	require.True(t, b2)
}

func TestRPCResponseErrorShape(t *testing.T) {
	e := NewRPCResponse("42", false, Null, &RPCError{Code: "denied", Message: "node command not allowed"})
	ok, found := e.Get("ok")
	require.True(t, found)
	b, _ := ok.AsBool()
	require.False(t, b)

	errVal, found := e.Get("error")
	require.True(t, found)
	msg, _ := errVal.Field("message")
	msgStr, _ := msg.AsString()
	require.Contains(t, msgStr, "node command not allowed")
}

func TestSeqGapRoundTrip(t *testing.T) {
	e := NewSeqGap(10, 12)
	data, err := e.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	expected, received, ok := SeqGapFields(decoded)
	require.True(t, ok)
	require.Equal(t, int64(10), expected)
	require.Equal(t, int64(12), received)
}
