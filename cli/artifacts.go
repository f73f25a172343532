package cli

// This file contains artifact bookkeeping for the files a sweep writes
// next to its logs.

import (
	"os"
	"path/filepath"

	"github.com/jifbench/jifbench/model"
)

func newArtifact(dir, file string, typ model.ArtifactType) (model.Artifact, error) {
	info, err := os.Stat(filepath.Join(dir, file))
	if err != nil {
		return model.Artifact{}, err
	}
	return model.Artifact{Type: typ, Size: uint64(info.Size()), File: file}, nil
}

func artifactTypeName(t model.ArtifactType) string {
	switch t {
	case model.ArtifactTypeChart:
		return "chart"
	case model.ArtifactTypeBreakdownProfile:
		return "profile"
	case model.ArtifactTypeAggregate:
		return "aggregate"
	}
	return "unknown"
}

// findArtifact returns the first artifact of the given type.
func findArtifact(artifacts []model.Artifact, typ model.ArtifactType) *model.Artifact {
	for i := range artifacts {
		if artifacts[i].Type == typ {
			return &artifacts[i]
		}
	}
	return nil
}
