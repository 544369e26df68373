package subcmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *Env) error { return nil }
	mods := []Mod{{Name: "run", Main: noop}, {Name: "decode", Main: noop}}
	m, err := Parse("decode", mods)
	require.NoError(t, err)
	assert.Equal(t, "decode", m.Name)

	_, err = Parse("", mods)
	assert.EqualError(t, err, "empty command")
	_, err = Parse("vmc", mods)
	assert.EqualError(t, err, "unknown command='vmc'")
	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{Main: noop}}) })
}
