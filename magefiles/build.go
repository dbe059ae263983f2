//go:build mage

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every GLSL shader under assets/shaders to SPIR-V.
func (Build) Shaders() error {
	entries, err := os.ReadDir("assets/shaders")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".vert" && ext != ".frag" {
			continue
		}
		src := filepath.Join("assets/shaders", name)
		out := filepath.Join("assets/shaders", strings.TrimSuffix(name, ext)+ext+".spv")
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the engine binary.
func (Build) Engine() error {
	_, err := executeCmd("go", withArgs("build", "-o", "borealis", "."), withStream())
	return err
}

// Runs the full test suite.
func (Build) Test() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}
