package value_test

import (
	"math"
	"testing"

	"github.com/joeycumines/attacha-rt/value"
	"github.com/stretchr/testify/require"
)

func TestScalarRoundTrip(t *testing.T) {
	b := value.Bool(true)
	got, err := b.Bool()
	require.NoError(t, err)
	require.True(t, got)

	i := value.Int32(-42)
	iv, err := i.Int()
	require.NoError(t, err)
	require.EqualValues(t, -42, iv)

	u := value.Uint16(9)
	uv, err := u.Uint()
	require.NoError(t, err)
	require.EqualValues(t, 9, uv)

	f := value.Float64(3.5)
	fv, err := f.Float()
	require.NoError(t, err)
	require.Equal(t, 3.5, fv)

	s := value.String("hi")
	sv, err := s.String()
	require.NoError(t, err)
	require.Equal(t, "hi", sv)
}

func TestWrongKindAccessorFails(t *testing.T) {
	i := value.Int32(1)
	_, err := i.String()
	require.Error(t, err)

	var castErr *value.CastError
	require.ErrorAs(t, err, &castErr)
	require.Equal(t, value.KindInt32, castErr.Have)
	require.Equal(t, value.KindString, castErr.Want)
}

func TestBytesOwnedVsBorrowed(t *testing.T) {
	raw := []byte{1, 2, 3}
	owned := value.Bytes(raw)
	require.True(t, owned.Owned())

	raw[0] = 99
	ownedBytes, err := owned.Bytes()
	require.NoError(t, err)
	require.Equal(t, byte(1), ownedBytes[0], "owned copy must not observe mutation of source slice")

	borrowed := value.BorrowedBytes(raw)
	require.False(t, borrowed.Owned())
	borrowedBytes, err := borrowed.Bytes()
	require.NoError(t, err)
	require.Equal(t, raw, borrowedBytes)

	cloned := borrowed.Clone()
	require.True(t, cloned.Owned())
	raw[1] = 77
	clonedBytes, _ := cloned.Bytes()
	require.Equal(t, byte(2), clonedBytes[1], "clone of a borrow must be independent of later mutation")
}

func TestStructHandleBorrowedDestroyNotCalled(t *testing.T) {
	destroyed := 0
	vt := &value.VTable{TypeName: "widget", Destroy: func(any) { destroyed++ }}
	ptr := &struct{}{}

	owned := value.Struct(vt, ptr)
	owned.Release()
	require.Equal(t, 1, destroyed)

	borrowed := value.BorrowedStruct(vt, ptr)
	borrowed.Release()
	require.Equal(t, 1, destroyed, "releasing a borrowed handle must not invoke Destroy")
}

func TestArrayCloneIsDeep(t *testing.T) {
	arr := value.Array(value.Int32(1), value.Bytes([]byte{9}))
	cloned := arr.Clone()

	items, err := arr.Array()
	require.NoError(t, err)
	clonedItems, err := cloned.Array()
	require.NoError(t, err)

	origBytes, _ := items[1].Bytes()
	origBytes[0] = 123
	clonedBytes, _ := clonedItems[1].Bytes()
	require.Equal(t, byte(9), clonedBytes[0])
}

func TestEqual(t *testing.T) {
	require.True(t, value.Equal(value.Int64(5), value.Int64(5)))
	require.False(t, value.Equal(value.Int64(5), value.Uint64(5)), "distinct Kinds are never equal")
	require.False(t, value.Equal(value.Float64(math.NaN()), value.Float64(math.NaN())))
	require.True(t, value.Equal(value.Array(value.String("a")), value.Array(value.String("a"))))
	require.True(t, value.Equal(value.None, value.None))
}

func TestFuncRef(t *testing.T) {
	f := value.Func("math.add")
	ref, err := f.FuncRef()
	require.NoError(t, err)
	require.Equal(t, "math.add", ref.Symbol)
}
