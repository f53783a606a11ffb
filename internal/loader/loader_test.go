package loader

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		want FileClass
	}{
		{"slice.png", ClassImage},
		{"photo.JPG", ClassImage},
		{"scan.tiff", ClassImage},
		{"surface.obj", ClassMesh},
		{"surface.mtl", ClassMaterial},
		{"intensities.csv", ClassMeasures},
		{"intensities.csv.gz", ClassMeasures},
		{"table.tsv", ClassMeasures},
		{"view.json", ClassSettings},
		{"README.md", ClassUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.name); got != c.want {
			t.Errorf("Classify(%q): expected %s, got %s", c.name, c.want, got)
		}
	}
}

func TestParseMeasures(t *testing.T) {
	data := []byte("name,x,y,protein,lipid\ns1,10,20,1.5,\ns2,30,40,2.5,0.1\ns3,50,60,bad,0.2\n")

	ds, err := ParseMeasures(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.Spots) != 3 {
		t.Fatalf("expected 3 spots, got %d", len(ds.Spots))
	}
	if len(ds.Measures) != 2 {
		t.Fatalf("expected 2 measures, got %d", len(ds.Measures))
	}
	if ds.Spots[0].Name != "s1" || ds.Spots[0].X != 10 || ds.Spots[0].Y != 20 {
		t.Fatalf("unexpected first spot: %+v", ds.Spots[0])
	}
	if ds.Measures[0].Name != "protein" {
		t.Fatalf("unexpected measure name %q", ds.Measures[0].Name)
	}
	if !math.IsNaN(ds.Measures[1].Values[0]) {
		t.Errorf("blank cell should load as NaN, got %v", ds.Measures[1].Values[0])
	}
	if !math.IsNaN(ds.Measures[0].Values[2]) {
		t.Errorf("junk cell should load as NaN, got %v", ds.Measures[0].Values[2])
	}
	if ds.Measures[0].Values[1] != 2.5 {
		t.Errorf("expected 2.5, got %v", ds.Measures[0].Values[1])
	}
}

func TestParseMeasuresWithZAndTabs(t *testing.T) {
	data := []byte("name\tx\ty\tz\tsignal\ns1\t1\t2\t3\t42\n")

	ds, err := ParseMeasures(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Spots[0].Z != 3 {
		t.Fatalf("expected z=3, got %v", ds.Spots[0].Z)
	}
	if ds.Measures[0].Values[0] != 42 {
		t.Fatalf("expected 42, got %v", ds.Measures[0].Values[0])
	}
}

func TestParseMeasuresGzip(t *testing.T) {
	plain := []byte("name,x,y,m\ns1,1,2,3\n")
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(plain)
	zw.Close()

	ds, err := ParseMeasures(context.Background(), buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.Spots) != 1 || ds.Measures[0].Values[0] != 3 {
		t.Fatalf("unexpected dataset from gzip input: %+v", ds)
	}
}

func TestParseMeasuresBadHeader(t *testing.T) {
	if _, err := ParseMeasures(context.Background(), []byte("a,b\n1,2\n"), nil); err == nil {
		t.Fatal("expected error for short header")
	}
	if _, err := ParseMeasures(context.Background(), []byte("name,lon,lat,m\ns,1,2,3\n"), nil); err == nil {
		t.Fatal("expected error for non-x,y header")
	}
}

func TestParseOBJ(t *testing.T) {
	data := []byte(`
v 0 0 0
v 1 0 0
v 0 1 0
v 1 1 0
f 1 2 3
f 2/1 4/2 3/3
`)
	mesh, err := ParseOBJ(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mesh.Vertices) != 4 {
		t.Fatalf("expected 4 vertices, got %d", len(mesh.Vertices))
	}
	if len(mesh.Faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(mesh.Faces))
	}
	if len(mesh.Normals) != 4 {
		t.Fatalf("expected computed normals, got %d", len(mesh.Normals))
	}
	// A flat mesh in the z=0 plane has vertical normals.
	if math.Abs(math.Abs(mesh.Normals[0].Z)-1) > 1e-9 {
		t.Fatalf("expected unit z normal, got %+v", mesh.Normals[0])
	}
}

func TestParseOBJQuadTriangulation(t *testing.T) {
	data := []byte("v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nf 1 2 3 4\n")
	mesh, err := ParseOBJ(context.Background(), data, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mesh.Faces) != 2 {
		t.Fatalf("expected quad to triangulate into 2 faces, got %d", len(mesh.Faces))
	}
}

func TestParseOBJBadIndex(t *testing.T) {
	if _, err := ParseOBJ(context.Background(), []byte("v 0 0 0\nf 1 2 3\n"), nil); err == nil {
		t.Fatal("expected out-of-range face index error")
	}
}

func TestParseMTL(t *testing.T) {
	data := []byte("newmtl surface\nKd 0.2 0.4 0.6\n")
	mat, err := ParseMTL(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mat.Name != "surface" {
		t.Fatalf("unexpected material name %q", mat.Name)
	}
	if mat.Diffuse.R != 0.2 || mat.Diffuse.G != 0.4 || mat.Diffuse.B != 0.6 {
		t.Fatalf("unexpected diffuse %+v", mat.Diffuse)
	}
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(`{"colormap":"viridis","spotScale":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s["colormap"]; !ok {
		t.Fatal("expected colormap key preserved")
	}

	if _, err := ParseSettings([]byte("[1,2,3]")); err == nil {
		t.Fatal("expected error for non-object settings")
	}
}
