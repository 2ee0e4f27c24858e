//go:build mage
// +build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

type Azure mg.Namespace

// Build compiles the CLI into ./bin/azure.
func (Azure) Build() error {
	return sh.RunV("go", "build", "-o", "./bin/azure", "./cmd/azure")
}

// Test runs every package test.
func (Azure) Test() error {
	return sh.RunV("go", "test", "./...")
}

// Check runs go vet, then the tests.
func (Azure) Check() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}

	mg.Deps(Azure.Test)
	return nil
}
