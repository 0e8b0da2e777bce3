package rtlog_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/attacha-rt/rtlog"
)

func TestNew_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := rtlog.New(rtlog.Config{Writer: &buf})
	l.Info().Str("symbol", "foo").Log("patched")

	require.Contains(t, buf.String(), `"symbol":"foo"`)
	require.Contains(t, buf.String(), `"message":"patched"`)
}

func TestDiscard(t *testing.T) {
	l := rtlog.Discard()
	require.NotPanics(t, func() {
		l.Err().Log("should not panic, and should not be observable")
	})
}
