package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/xorvault/pkg/types"
)

func TestEncodeDecode_PreservesConcreteType(t *testing.T) {
	chunk := types.NewChunk([]byte("wire payload"))

	raw, err := Encode(StoreChunk{Chunk: chunk, RequesterAuth: []byte("auth")})
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)

	msg, ok := decoded.(StoreChunk)
	require.True(t, ok, "expected StoreChunk, got %T", decoded)
	assert.Equal(t, chunk, msg.Chunk)
	assert.Equal(t, []byte("auth"), msg.RequesterAuth)
}

func TestEncodeDecode_ErrorMessages(t *testing.T) {
	addr := types.NameOf([]byte("missing"))
	op := types.OperationID(addr, 1)

	raw, err := Encode(GetErr{Address: addr, OpID: op, Kind: KindNotFound})
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)

	msg, ok := decoded.(GetErr)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, msg.Kind)
	assert.Equal(t, op, msg.OpID)
}

func TestEncodeDecode_MembersChanged(t *testing.T) {
	a := types.NameOf([]byte("a"))
	b := types.NameOf([]byte("b"))

	raw, err := Encode(MembersChanged{Added: []types.XorName{a}, Remaining: []types.XorName{a, b}})
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	msg, ok := decoded.(MembersChanged)
	require.True(t, ok)
	assert.Equal(t, []types.XorName{a}, msg.Added)
	assert.Len(t, msg.Remaining, 2)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte("not a gob stream"))
	assert.Error(t, err)
}

func TestErrKind_String(t *testing.T) {
	assert.Equal(t, "NoSpace", KindNoSpace.String())
	assert.Equal(t, "AccessDenied", KindAccessDenied.String())
	assert.Equal(t, "Unknown", ErrKind(42).String())
}
