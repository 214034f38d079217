// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// integrationTag guards the tests that start PostgreSQL in a container.
const integrationTag = "integration"

// Test groups test targets (all, unit, integration, cover).
type Test mg.Namespace

// All runs unit and integration tests.
func (Test) All() error {
	mg.SerialDeps(Test.Unit, Test.Integration)
	return nil
}

// Unit runs the tests that need no external services.
func (Test) Unit() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Integration runs the tests tagged integration. Docker must be running.
func (Test) Integration() error {
	return sh.RunV(binGo, "test", "-tags", integrationTag, "-run", "Postgres", "./...")
}

// Cover writes a unit test coverage profile to bin/coverage.out.
func (Test) Cover() error {
	mg.Deps(Build)
	profile := filepath.Join(binaryDir, "coverage.out")
	if err := sh.RunV(binGo, "test", "-coverprofile", profile, "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func", profile)
}
