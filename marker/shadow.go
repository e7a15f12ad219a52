package marker

import (
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/armarker/scene"
	"go.viam.com/armarker/utils"
)

// DefaultShadowStrength is the shadow strength used when none is configured.
const DefaultShadowStrength = 0.5

// ShadowNodeName is the name given to every binding's shadow node.
const ShadowNodeName = "Shadow"

// shadowScale is the size of the shadow quad relative to the marker.
var shadowScale = r3.Vector{X: 5, Y: 5, Z: 5}

// ShadowMaterials owns the one material every shadow quad in a scene shares. The material is
// created the first time a shadow asks for it.
type ShadowMaterials struct {
	mu       sync.Mutex
	blend    scene.BlendMode
	strength float64
	material *scene.Material
}

// NewShadowMaterials returns a registry for shadows drawn with the given blend mode, which must
// be scene.BlendMultiplicative or scene.BlendNormal. Strength is clamped to [0, 1].
func NewShadowMaterials(blend scene.BlendMode, strength float64) (*ShadowMaterials, error) {
	if blend != scene.BlendMultiplicative && blend != scene.BlendNormal {
		return nil, errors.Errorf("unsupported shadow blend mode %q", blend)
	}
	return &ShadowMaterials{blend: blend, strength: utils.Clamp(strength, 0, 1)}, nil
}

// Material returns the shared shadow material, creating it on first use.
func (sm *ShadowMaterials) Material() *scene.Material {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.material == nil {
		m := scene.NewMaterial(ShadowNodeName)
		m.Diffuse = scene.Gray(0)
		m.Specular = scene.Gray(0)
		m.Unlit = true
		m.DepthWrite = false
		m.Blend = sm.blend
		applyShadowStrength(m, sm.blend, sm.strength)
		sm.material = m
	}
	return sm.material
}

// Created reports whether the shared material exists yet.
func (sm *ShadowMaterials) Created() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.material != nil
}

// Strength returns the current shadow strength.
func (sm *ShadowMaterials) Strength() float64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.strength
}

// Blend returns the blend mode shadows are drawn with.
func (sm *ShadowMaterials) Blend() scene.BlendMode {
	return sm.blend
}

// SetStrength changes the strength of every shadow sharing the material. 1 is full strength and
// 0 makes shadows invisible.
func (sm *ShadowMaterials) SetStrength(strength float64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.strength = utils.Clamp(strength, 0, 1)
	if sm.material != nil {
		sm.material.Update(func(m *scene.Material) {
			applyShadowStrength(m, sm.blend, sm.strength)
		})
	}
}

// A multiplicative shadow darkens what is behind it by its emissive color; an alpha shadow is
// black at the given opacity.
func applyShadowStrength(m *scene.Material, blend scene.BlendMode, strength float64) {
	switch blend {
	case scene.BlendMultiplicative:
		m.Emissive = scene.Gray(1 - strength)
		m.Opacity = 1
	default:
		m.Emissive = scene.Gray(0)
		m.Opacity = strength
	}
}
