package value_test

import (
	"testing"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/value"
	"github.com/stretchr/testify/require"
)

type counter struct{ n int64 }

func counterVTableMethods() map[string]value.Method {
	return map[string]value.Method{
		"add": func(self any, args ...value.Item) (value.Item, error) {
			c := self.(*counter)
			for _, a := range args {
				n, err := a.Int()
				if err != nil {
					return value.Item{}, err
				}
				c.n += n
			}
			return value.Int64(c.n), nil
		},
	}
}

func TestStaticVTableForbidsMutation(t *testing.T) {
	vt := value.NewStaticVTable("counter", counterVTableMethods(), nil)
	require.False(t, vt.Dynamic())

	err := vt.AddMethod("sub", func(any, ...value.Item) (value.Item, error) { return value.None, nil })
	require.True(t, errs.Is(err, errs.KindInvalidOperation))
	err = vt.RemoveMethod("add")
	require.True(t, errs.Is(err, errs.KindInvalidOperation))

	require.Equal(t, []string{"add"}, vt.Methods())
}

func TestDynamicVTableMutation(t *testing.T) {
	vt := value.NewDynamicVTable("counter", nil)
	require.True(t, vt.Dynamic())

	require.NoError(t, vt.AddMethod("add", counterVTableMethods()["add"]))

	it := value.Struct(vt, &counter{})
	got, err := it.CallMethod("add", value.Int64(4), value.Int64(5))
	require.NoError(t, err)
	n, err := got.Int()
	require.NoError(t, err)
	require.EqualValues(t, 9, n)

	require.NoError(t, vt.RemoveMethod("add"))
	_, err = it.CallMethod("add")
	require.True(t, errs.Is(err, errs.KindInvalidOperation))
}

func TestCallMethodOnNonStruct(t *testing.T) {
	_, err := value.Int64(1).CallMethod("add")
	require.True(t, errs.Is(err, errs.KindInvalidCast))
}

func TestTypeRegistry(t *testing.T) {
	reg := value.NewTypeRegistry()
	vt := value.NewStaticVTable("counter", counterVTableMethods(), nil)

	require.NoError(t, reg.Attach(vt))
	err := reg.Attach(value.NewDynamicVTable("counter", nil))
	require.True(t, errs.Is(err, errs.KindBadClassDeclaration))

	got, ok := reg.Lookup("counter")
	require.True(t, ok)
	require.Same(t, vt, got)

	reg.Detach("counter")
	_, ok = reg.Lookup("counter")
	require.False(t, ok)
}
