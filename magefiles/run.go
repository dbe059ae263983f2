//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds the shaders, then runs the demo application.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Running engine...")
	_, err := executeCmd("go", withArgs("run", "main.go"), withStream())
	return err
}
