// Package loader implements the file-loading collaborators executed as
// background task workers: measure tables, images, meshes, materials and
// settings blobs.
package loader

import (
	"path/filepath"
	"strings"
)

// FileClass routes an input file to the task kind that loads it.
type FileClass int

const (
	ClassUnknown FileClass = iota
	ClassImage
	ClassMesh
	ClassMaterial
	ClassMeasures
	ClassSettings
)

func (c FileClass) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassMesh:
		return "mesh"
	case ClassMaterial:
		return "material"
	case ClassMeasures:
		return "measures"
	case ClassSettings:
		return "settings"
	default:
		return "unknown"
	}
}

// Classify routes one file name by extension. Compressed measure tables keep
// their class (.csv.gz etc).
func Classify(name string) FileClass {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".gz" {
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(name, filepath.Ext(name))))
	}
	switch ext {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff":
		return ClassImage
	case ".obj":
		return ClassMesh
	case ".mtl":
		return ClassMaterial
	case ".csv", ".tsv", ".txt":
		return ClassMeasures
	case ".json":
		return ClassSettings
	default:
		return ClassUnknown
	}
}

// ClassifyFiles routes a batch of file names, preserving order.
func ClassifyFiles(names []string) map[FileClass][]string {
	out := make(map[FileClass][]string)
	for _, n := range names {
		c := Classify(n)
		out[c] = append(out[c], n)
	}
	return out
}
