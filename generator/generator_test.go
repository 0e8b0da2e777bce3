package generator_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/attacha-rt/generator"
	"github.com/joeycumines/attacha-rt/value"
)

func TestGenerator_YieldAndReturn(t *testing.T) {
	g := generator.New(func(g *generator.Generator, arg value.Item) (value.Item, error) {
		n, err := arg.Int()
		require.NoError(t, err)
		for i := int64(0); i < n; i++ {
			g.Yield(value.Int64(i))
		}
		return value.String("done"), nil
	}, value.Int64(3))

	var got []int64
	for {
		v, ok, err := g.Next()
		require.NoError(t, err)
		if !ok {
			s, err := v.String()
			require.NoError(t, err)
			require.Equal(t, "done", s)
			break
		}
		n, err := v.Int()
		require.NoError(t, err)
		got = append(got, n)
	}
	require.Equal(t, []int64{0, 1, 2}, got)
	require.True(t, g.Done())

	// iterating past return_ yields no more values, deterministically.
	v, ok, err := g.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, v.IsNone())
}

func TestGenerator_ErrorSurfacedOnce(t *testing.T) {
	sentinel := errors.New("boom")
	g := generator.New(func(g *generator.Generator, arg value.Item) (value.Item, error) {
		g.Yield(value.Int64(1))
		return value.Item{}, sentinel
	}, value.Item{})

	v, ok, err := g.Next()
	require.NoError(t, err)
	require.True(t, ok)
	n, _ := v.Int()
	require.Equal(t, int64(1), n)

	_, ok, err = g.Next()
	require.False(t, ok)
	require.ErrorIs(t, err, sentinel)

	// the error reappears exactly once.
	_, ok, err = g.Next()
	require.False(t, ok)
	require.NoError(t, err)
}

func TestGenerator_PanicPropagates(t *testing.T) {
	g := generator.New(func(g *generator.Generator, arg value.Item) (value.Item, error) {
		panic(errors.New("fatal"))
	}, value.Item{})

	_, ok, err := g.Next()
	require.False(t, ok)
	require.EqualError(t, err, "fatal")
}

func TestCollect(t *testing.T) {
	g := generator.New(func(g *generator.Generator, arg value.Item) (value.Item, error) {
		g.Yield(value.Int64(1))
		g.Yield(value.Int64(2))
		return value.Int64(99), nil
	}, value.Item{})

	yielded, last, err := generator.Collect(g)
	require.NoError(t, err)
	require.Len(t, yielded, 2)
	n, _ := last.Int()
	require.Equal(t, int64(99), n)
}
