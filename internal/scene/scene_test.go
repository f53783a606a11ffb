package scene

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"testing"

	"github.com/ili-toolbox/ili-server/internal/model"
	"github.com/ili-toolbox/ili-server/pkg/colormap"
)

func testColormap(t *testing.T) colormap.Colormap {
	t.Helper()
	cm, err := colormap.Lookup("red-hot")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return cm
}

func TestComputeNormals(t *testing.T) {
	m := &Mesh{
		Vertices: []Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Faces:    [][3]int{{0, 1, 2}},
	}
	m.ComputeNormals()

	if len(m.Normals) != 3 {
		t.Fatalf("expected 3 normals, got %d", len(m.Normals))
	}
	for i, n := range m.Normals {
		if n.X != 0 || n.Y != 0 || n.Z != 1 {
			t.Errorf("vertex %d: expected normal (0 0 1), got %+v", i, n)
		}
	}
}

func TestComputeNormalsIsolatedVertex(t *testing.T) {
	m := &Mesh{
		Vertices: []Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {9, 9, 9}},
		Faces:    [][3]int{{0, 1, 2}},
	}
	m.ComputeNormals()

	// A vertex with no adjacent face keeps a zero normal.
	if n := m.Normals[3]; n.X != 0 || n.Y != 0 || n.Z != 0 {
		t.Fatalf("expected zero normal for isolated vertex, got %+v", n)
	}
}

func TestBuildMapping(t *testing.T) {
	mesh := &Mesh{Vertices: []Vec3{
		{0, 0, 0},  // coincides with spot a
		{3, 0, 0},  // within spot b's cutoff
		{50, 0, 0}, // out of reach
	}}
	spots := []*model.Spot{
		model.NewSpot("a", 0, 0, 0),
		model.NewSpot("b", 4, 0, 0),
	}

	m := BuildMapping(mesh, spots, 2)

	if m.SpotIndex[0] != 0 {
		t.Errorf("vertex 0: expected spot 0, got %d", m.SpotIndex[0])
	}
	if m.Weight[0] != 1 {
		t.Errorf("vertex 0: expected weight 1 at zero distance, got %v", m.Weight[0])
	}
	if m.SpotIndex[1] != 1 {
		t.Errorf("vertex 1: expected spot 1, got %d", m.SpotIndex[1])
	}
	if m.Weight[1] <= 0 || m.Weight[1] >= 1 {
		t.Errorf("vertex 1: expected weight in (0, 1), got %v", m.Weight[1])
	}
	if m.SpotIndex[2] != -1 {
		t.Errorf("vertex 2: expected no spot, got %d", m.SpotIndex[2])
	}
}

func TestBuildMappingScaleWidensCutoff(t *testing.T) {
	mesh := &Mesh{Vertices: []Vec3{{5, 0, 0}}}
	spot := model.NewSpot("a", 0, 0, 0)

	if m := BuildMapping(mesh, []*model.Spot{spot}, 2); m.SpotIndex[0] != -1 {
		t.Fatal("vertex beyond cutoff must stay unmapped")
	}

	spot.Scale = 3
	if m := BuildMapping(mesh, []*model.Spot{spot}, 2); m.SpotIndex[0] != 0 {
		t.Fatal("scaled-up spot must capture the vertex")
	}
}

func TestRecolor(t *testing.T) {
	s := NewScene3D(testColormap(t))
	s.SetGeometry(&Mesh{
		Vertices: []Vec3{{0, 0, 0}, {10, 0, 0}},
		Faces:    [][3]int{},
	})
	s.SetMaterial(&Material{Name: "base", Diffuse: model.RGB{R: 0.2, G: 0.2, B: 0.2}})

	hot := model.NewSpot("hot", 0, 0, 0)
	hot.Intensity = 1
	s.SetSpots([]*model.Spot{hot})
	s.SetMapping(&Mapping{SpotIndex: []int{0, -1}, Weight: []float64{1, 0}})

	s.Recolor(UseColormap)
	colors := s.VertexColors()
	if len(colors) != 2 {
		t.Fatalf("expected 2 vertex colors, got %d", len(colors))
	}
	// Fully weighted vertex takes the colormap top end, red-hot maxes at red.
	if colors[0].R < 0.9 || colors[0].G > 0.3 {
		t.Errorf("mapped vertex: expected hot red, got %+v", colors[0])
	}
	if colors[1] != (model.RGB{R: 0.2, G: 0.2, B: 0.2}) {
		t.Errorf("unmapped vertex: expected base color, got %+v", colors[1])
	}

	s.Recolor(NoColormap)
	colors = s.VertexColors()
	if colors[0] != (model.RGB{R: 0.2, G: 0.2, B: 0.2}) {
		t.Errorf("NoColormap: expected base color everywhere, got %+v", colors[0])
	}
}

func TestRecolorSkipsHiddenAndNoData(t *testing.T) {
	s := NewScene3D(testColormap(t))
	s.SetGeometry(&Mesh{Vertices: []Vec3{{0, 0, 0}, {1, 0, 0}}})

	hidden := model.NewSpot("hidden", 0, 0, 0)
	hidden.Intensity = 1
	hidden.Visibility = 0
	noData := model.NewSpot("nodata", 1, 0, 0)

	s.SetSpots([]*model.Spot{hidden, noData})
	s.SetMapping(&Mapping{SpotIndex: []int{0, 1}, Weight: []float64{1, 1}})
	s.Recolor(UseColormap)

	base := model.RGB{R: 0.5, G: 0.5, B: 0.5}
	for i, c := range s.VertexColors() {
		if c != base {
			t.Errorf("vertex %d: expected untouched base color, got %+v", i, c)
		}
	}
}

func TestScene2DRender(t *testing.T) {
	s := NewScene2D(Config{SpotRadius: 4, GlobalSpotScale: 1}, testColormap(t))
	s.SetImage(image.NewRGBA(image.Rect(0, 0, 32, 16)))

	spot := model.NewSpot("a", 8, 8, 0)
	spot.Intensity = 0.5
	s.SetSpots([]*model.Spot{spot})

	data, err := s.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Fatalf("expected 32x16 render, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestScene2DRenderWithoutImageUsesExtent(t *testing.T) {
	s := NewScene2D(Config{SpotRadius: 2, GlobalSpotScale: 1}, testColormap(t))

	spot := model.NewSpot("a", 10, 20, 0)
	spot.Intensity = 1
	s.SetSpots([]*model.Spot{spot})

	data, err := s.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() < 12 || b.Dy() < 22 {
		t.Fatalf("canvas must cover the spot extent, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestSpotColor(t *testing.T) {
	s := NewScene2D(Config{}, testColormap(t))

	noData := model.NewSpot("n", 0, 0, 0)
	if !math.IsNaN(noData.Intensity) {
		t.Fatal("fresh spot must start with no-data intensity")
	}
	if _, ok := s.spotColor(noData); ok {
		t.Fatal("no-data spot without override must render as absent")
	}

	noData.Color = &model.RGB{R: 1}
	c, ok := s.spotColor(noData)
	if !ok {
		t.Fatal("explicit color override must win over no-data")
	}
	r, g, _, _ := c.RGBA()
	if r != 0xffff || g != 0 {
		t.Fatalf("expected pure red override, got %v", c)
	}
}
