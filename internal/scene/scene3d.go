package scene

import (
	"math"
	"sync"

	"github.com/ili-toolbox/ili-server/internal/model"
	"github.com/ili-toolbox/ili-server/pkg/colormap"
)

// Vec3 is a point or direction in mesh space.
type Vec3 struct {
	X, Y, Z float64
}

// Mesh is a triangle surface with per-vertex normals.
type Mesh struct {
	Vertices []Vec3
	Faces    [][3]int
	Normals  []Vec3
}

// ComputeNormals fills per-vertex normals as the normalized sum of adjacent
// face normals.
func (m *Mesh) ComputeNormals() {
	m.Normals = make([]Vec3, len(m.Vertices))
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		u := Vec3{b.X - a.X, b.Y - a.Y, b.Z - a.Z}
		v := Vec3{c.X - a.X, c.Y - a.Y, c.Z - a.Z}
		n := Vec3{
			u.Y*v.Z - u.Z*v.Y,
			u.Z*v.X - u.X*v.Z,
			u.X*v.Y - u.Y*v.X,
		}
		for _, vi := range f {
			m.Normals[vi].X += n.X
			m.Normals[vi].Y += n.Y
			m.Normals[vi].Z += n.Z
		}
	}
	for i := range m.Normals {
		n := m.Normals[i]
		l := math.Sqrt(n.X*n.X + n.Y*n.Y + n.Z*n.Z)
		if l > 0 {
			m.Normals[i] = Vec3{n.X / l, n.Y / l, n.Z / l}
		}
	}
}

// Material carries the mesh base color loaded from a material file.
type Material struct {
	Name    string
	Diffuse model.RGB
}

// Mapping assigns each mesh vertex its closest spot (or -1) and a proximity
// weight in [0, 1]. It is produced by the map task and consumed by Recolor.
type Mapping struct {
	SpotIndex []int
	Weight    []float64
}

// BuildMapping computes the nearest-spot assignment for every vertex. A
// vertex maps to a spot only when it lies within radius * spot.Scale of it;
// the weight falls off linearly with distance.
func BuildMapping(mesh *Mesh, spots []*model.Spot, radius float64) *Mapping {
	if radius <= 0 {
		radius = 1
	}
	m := &Mapping{
		SpotIndex: make([]int, len(mesh.Vertices)),
		Weight:    make([]float64, len(mesh.Vertices)),
	}
	for vi, v := range mesh.Vertices {
		m.SpotIndex[vi] = -1
		best := math.Inf(1)
		for si, s := range spots {
			cutoff := radius * s.Scale
			if cutoff <= 0 {
				continue
			}
			dx, dy, dz := v.X-s.X, v.Y-s.Y, v.Z-s.Z
			d := math.Sqrt(dx*dx + dy*dy + dz*dz)
			if d <= cutoff && d < best {
				best = d
				m.SpotIndex[vi] = si
				m.Weight[vi] = 1 - d/cutoff
			}
		}
	}
	return m
}

// Scene3D holds the mesh geometry, its material and the spot-to-vertex
// mapping, and produces per-vertex colors on recoloring.
type Scene3D struct {
	mu sync.Mutex

	mesh     *Mesh
	material *Material
	spots    []*model.Spot
	mapping  *Mapping
	colormap colormap.Colormap

	// VertexColors is rebuilt by Recolor; one RGB per vertex.
	vertexColors []model.RGB
}

// NewScene3D creates an empty 3D scene.
func NewScene3D(cm colormap.Colormap) *Scene3D {
	return &Scene3D{colormap: cm}
}

// SetGeometry installs the loaded mesh, computing normals when absent, and
// invalidates any previous mapping.
func (s *Scene3D) SetGeometry(mesh *Mesh) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mesh != nil && len(mesh.Normals) != len(mesh.Vertices) {
		mesh.ComputeNormals()
	}
	s.mesh = mesh
	s.mapping = nil
	s.vertexColors = nil
}

// ResetGeometry clears the mesh, used when leaving 3D mode.
func (s *Scene3D) ResetGeometry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mesh = nil
	s.material = nil
	s.mapping = nil
	s.vertexColors = nil
}

// Mesh returns the current geometry, or nil.
func (s *Scene3D) Mesh() *Mesh {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mesh
}

// SetMaterial installs the loaded material.
func (s *Scene3D) SetMaterial(mat *Material) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.material = mat
}

// SetMapping installs the spot-to-vertex mapping produced by the map task.
func (s *Scene3D) SetMapping(m *Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapping = m
}

// SetColormap switches the active colormap.
func (s *Scene3D) SetColormap(cm colormap.Colormap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colormap = cm
}

// SetSpots replaces the spot sequence.
func (s *Scene3D) SetSpots(spots []*model.Spot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spots = spots
}

// RefreshSpots recolors with the current mapping and colormap.
func (s *Scene3D) RefreshSpots() {
	s.Recolor(UseColormap)
}

// UpdateIntensities receives the recomputed spot sequence and recolors.
func (s *Scene3D) UpdateIntensities(spots []*model.Spot) {
	s.SetSpots(spots)
	s.Recolor(UseColormap)
}

// Recolor rebuilds per-vertex colors. With UseColormap, mapped vertices take
// the colormap at their spot's intensity blended toward the base color by the
// proximity weight; with NoColormap only the base color is laid down (the
// mapping itself stays valid for a later colormap pass).
func (s *Scene3D) Recolor(mode RecolorMode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mesh == nil {
		return
	}
	base := model.RGB{R: 0.5, G: 0.5, B: 0.5}
	if s.material != nil {
		base = s.material.Diffuse
	}

	colors := make([]model.RGB, len(s.mesh.Vertices))
	for i := range colors {
		colors[i] = base
	}

	if mode == UseColormap && s.mapping != nil && s.colormap != nil {
		for vi, si := range s.mapping.SpotIndex {
			if si < 0 || si >= len(s.spots) {
				continue
			}
			spot := s.spots[si]
			if spot.Visibility <= 0 || math.IsNaN(spot.Intensity) {
				continue
			}
			r, g, b, _ := s.colormap.At(spot.Intensity).RGBA()
			w := s.mapping.Weight[vi] * spot.Visibility
			colors[vi] = model.RGB{
				R: base.R + (float64(r)/65535-base.R)*w,
				G: base.G + (float64(g)/65535-base.G)*w,
				B: base.B + (float64(b)/65535-base.B)*w,
			}
		}
	}

	s.vertexColors = colors
}

// VertexColors returns the last recoloring result, or nil before any pass.
func (s *Scene3D) VertexColors() []model.RGB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vertexColors
}
