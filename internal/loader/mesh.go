package loader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ili-toolbox/ili-server/internal/model"
	"github.com/ili-toolbox/ili-server/internal/scene"
)

// ParseOBJ reads a Wavefront OBJ surface into mesh geometry. Only vertex and
// face statements are consumed; faces with more than three corners are
// fan-triangulated. Vertex normals are recomputed from the faces.
func ParseOBJ(ctx context.Context, data []byte, progress func(string)) (*scene.Mesh, error) {
	mesh := &scene.Mesh{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if line%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if progress != nil {
				progress(fmt.Sprintf("loading mesh: %d lines", line))
			}
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", line)
			}
			var v scene.Vec3
			var err error
			if v.X, err = strconv.ParseFloat(fields[1], 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if v.Y, err = strconv.ParseFloat(fields[2], 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if v.Z, err = strconv.ParseFloat(fields[3], 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			mesh.Vertices = append(mesh.Vertices, v)
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 corners", line)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, f := range fields[1:] {
				i, err := parseFaceIndex(f, len(mesh.Vertices))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				idx = append(idx, i)
			}
			for i := 2; i < len(idx); i++ {
				mesh.Faces = append(mesh.Faces, [3]int{idx[0], idx[i-1], idx[i]})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mesh: %w", err)
	}
	if len(mesh.Vertices) == 0 {
		return nil, fmt.Errorf("mesh has no vertices")
	}

	mesh.ComputeNormals()
	return mesh, nil
}

// parseFaceIndex reads one face corner ("7", "7/1", "7/1/3", or negative
// relative indices) into a zero-based vertex index.
func parseFaceIndex(field string, nVertices int) (int, error) {
	if i := strings.IndexByte(field, '/'); i >= 0 {
		field = field[:i]
	}
	v, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("bad face index %q", field)
	}
	if v < 0 {
		v = nVertices + v + 1
	}
	if v < 1 || v > nVertices {
		return 0, fmt.Errorf("face index %d out of range (have %d vertices)", v, nVertices)
	}
	return v - 1, nil
}

// ParseMTL reads the first material of a Wavefront MTL file, keeping only the
// diffuse color the 3D scene consumes.
func ParseMTL(data []byte) (*scene.Material, error) {
	mat := &scene.Material{Diffuse: model.RGB{R: 0.5, G: 0.5, B: 0.5}}
	seen := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "newmtl":
			if seen {
				return mat, nil // only the first material is used
			}
			seen = true
			if len(fields) > 1 {
				mat.Name = fields[1]
			}
		case "Kd":
			if len(fields) < 4 {
				return nil, fmt.Errorf("Kd needs 3 components")
			}
			r, err1 := strconv.ParseFloat(fields[1], 64)
			g, err2 := strconv.ParseFloat(fields[2], 64)
			b, err3 := strconv.ParseFloat(fields[3], 64)
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, fmt.Errorf("bad Kd components %v", fields[1:4])
			}
			mat.Diffuse = model.RGB{R: r, G: g, B: b}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading material: %w", err)
	}
	if !seen {
		return nil, fmt.Errorf("material file defines no material")
	}
	return mat, nil
}
