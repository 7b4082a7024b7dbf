package palette

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorFor_Deterministic(t *testing.T) {
	r := New()

	c0 := r.ColorFor("cat")
	c1 := r.ColorFor("dog")
	again := r.ColorFor("cat")

	assert.Equal(t, Default[0], c0)
	assert.Equal(t, Default[1], c1)
	assert.NotEqual(t, c0, c1)
	assert.Equal(t, c0, again)
	assert.Equal(t, []string{"cat", "dog"}, r.Labels())
}

func TestColorFor_Cycles(t *testing.T) {
	a := color.NRGBA{R: 1, A: 255}
	b := color.NRGBA{G: 1, A: 255}
	r := New(a, b)

	got := []color.NRGBA{r.ColorFor("x"), r.ColorFor("y"), r.ColorFor("z"), r.ColorFor("x")}
	assert.Equal(t, []color.NRGBA{a, b, a, a}, got)
	assert.Equal(t, 3, r.Len())
}

func TestReset(t *testing.T) {
	r := New()
	r.ColorFor("a")
	r.ColorFor("b")
	r.Reset()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, Default[0], r.ColorFor("b"))
}

func TestParseHex(t *testing.T) {
	c, err := ParseHex("#ffa500")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 0xff, G: 0xa5, B: 0x00, A: 0xff}, c)

	c, err = ParseHex("00FF00")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{G: 0xff, A: 0xff}, c)

	_, err = ParseHex("#fff")
	assert.Error(t, err)
	_, err = ParseHex("#gg0000")
	assert.Error(t, err)

	list, err := ParseHexList([]string{"#000000", "#ffffff"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	_, err = ParseHexList([]string{"#000000", "nope"})
	assert.Error(t, err)
}
