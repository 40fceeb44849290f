package color

import (
	"fmt"
	"math/rand"
)

// maxAttempts bounds the collision-avoidance retry loop. Past the bound
// a duplicate color is accepted rather than failing the join.
const maxAttempts = 100

// Allocator produces display colors for room participants. Colors are
// drawn in HSL space with saturation and lightness constrained to a
// band that reads well on a dark background.
type Allocator struct {
	rng *rand.Rand
}

// NewAllocator creates an Allocator using the given random source.
func NewAllocator(rng *rand.Rand) *Allocator {
	return &Allocator{rng: rng}
}

// Allocate returns a hex color that is not in inUse, retrying up to
// maxAttempts times. Uniqueness is best-effort: when the room already
// uses most of the attempted colors, a duplicate is returned.
func (a *Allocator) Allocate(inUse map[string]bool) string {
	var c string
	for i := 0; i < maxAttempts; i++ {
		c = a.random()
		if !inUse[c] {
			return c
		}
	}
	return c
}

// random picks a color with a uniformly random hue, saturation in
// [70,90] and lightness in [45,75].
func (a *Allocator) random() string {
	h := a.rng.Float64() * 360
	s := 70 + a.rng.Float64()*20
	l := 45 + a.rng.Float64()*30
	return hslToHex(h, s, l)
}

// hslToHex converts an HSL triple (h in degrees, s and l in percent)
// to a #rrggbb string.
func hslToHex(h, s, l float64) string {
	s /= 100
	l /= 100

	c := (1 - abs(2*l-1)) * s
	x := c * (1 - abs(mod(h/60, 2)-1))
	m := l - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return fmt.Sprintf("#%02x%02x%02x",
		int((r+m)*255+0.5), int((g+m)*255+0.5), int((b+m)*255+0.5))
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func mod(f, n float64) float64 {
	r := f - n*float64(int(f/n))
	if r < 0 {
		r += n
	}
	return r
}
