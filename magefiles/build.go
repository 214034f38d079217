// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build mage

// Package main provides the mage targets of the eavl module.
//
// Usage:
//
//	mage build             Compile the eavl binary to bin/
//	mage install           Install eavl to GOPATH/bin
//	mage test:unit         Run unit tests
//	mage test:integration  Run tests tagged integration (needs Docker)
//	mage test:all          Run both
//	mage test:cover        Write a coverage profile to bin/
//	mage lint              Run go vet and golangci-lint
//	mage clean             Remove build artifacts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "eavl"
	binaryDir  = "bin"
	cmdDir     = "./cmd/eavl"
)

// Build compiles the eavl binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	return sh.Copy(filepath.Join(gopath, "bin", binaryName), filepath.Join(binaryDir, binaryName))
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}
