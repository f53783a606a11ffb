// Package scene provides the 2D and 3D rendering collaborators consumed by
// the workspace controller. Scenes read the shared spot sequence by
// reference; all spot mutation routes through the workspace.
package scene

import "github.com/ili-toolbox/ili-server/internal/model"

// RecolorMode controls whether current intensities drive vertex colors or
// only the geometry proximity data is refreshed.
type RecolorMode int

const (
	UseColormap RecolorMode = iota
	NoColormap
)

// Scene is the surface shared by the 2D and 3D collaborators. The workspace
// pushes the full spot sequence on every change rather than diffing.
type Scene interface {
	SetSpots(spots []*model.Spot)
	RefreshSpots()
	UpdateIntensities(spots []*model.Spot)
}
