package scene

import (
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// BlendMode is how a material's output combines with what is already drawn.
type BlendMode int

const (
	// BlendNone writes opaque color.
	BlendNone BlendMode = iota
	// BlendNormal is alpha blending using Material.Opacity.
	BlendNormal
	// BlendMultiplicative multiplies the destination by the material color.
	BlendMultiplicative
)

func (b BlendMode) String() string {
	switch b {
	case BlendNone:
		return "none"
	case BlendNormal:
		return "normal"
	case BlendMultiplicative:
		return "multiplicative"
	default:
		return "unknown"
	}
}

// UnmarshalText parses a blend mode by name.
func (b *BlendMode) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for _, mode := range []BlendMode{BlendNone, BlendNormal, BlendMultiplicative} {
		if mode.String() == name {
			*b = mode
			return nil
		}
	}
	return errors.Errorf("unknown blend mode %q", string(text))
}

// Material is the surface description attached to renderable nodes.
type Material struct {
	Name     string
	Diffuse  colorful.Color
	Specular colorful.Color
	Emissive colorful.Color
	Opacity  float64
	Blend    BlendMode
	// Unlit materials ignore scene lights and use Diffuse/Emissive as is.
	Unlit      bool
	DepthWrite bool
	// Version increases each time the material is changed through Update.
	Version int
}

// NewMaterial returns an opaque white lit material.
func NewMaterial(name string) *Material {
	return &Material{
		Name:       name,
		Diffuse:    colorful.Color{R: 1, G: 1, B: 1},
		Opacity:    1,
		DepthWrite: true,
	}
}

// Update applies fn to the material and bumps its version so renderers can refresh.
func (m *Material) Update(fn func(m *Material)) {
	fn(m)
	m.Version++
}

// Gray returns an achromatic color with all channels set to v.
func Gray(v float64) colorful.Color {
	return colorful.Color{R: v, G: v, B: v}
}
