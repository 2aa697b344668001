//go:build mage

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binary   = "bin/seedstream"
	mainPkg  = "./cmd/seedstream"
	coverOut = "coverage.out"
	devDB    = "dev.db"
)

// Default target to run when none is specified
var Default = Build

// Build compiles the server into bin/
func Build() error {
	fmt.Println("Building", binary, "...")
	return sh.Run("go", "build", "-o", binary, mainPkg)
}

// Test runs every package's tests with the race detector and a coverage profile
func Test() error {
	fmt.Println("Running tests...")
	return sh.RunV("go", "test", "-race", "-coverprofile="+coverOut, "./...")
}

// Proxy runs the ginkgo suite for the stream proxy verbosely
func Proxy() error {
	fmt.Println("Running stream proxy suite...")
	return sh.RunV("go", "test", "-race", "./pkg/stream", "-ginkgo.v")
}

// Stress repeats the pool, connection and catalog tests in shuffled order to shake out races
func Stress() error {
	fmt.Println("Stressing pool, connection and catalog tests...")
	return run(
		context.Background(),
		"go", "test",
		"-race",
		"-count=20",
		"-shuffle=on",
		"-failfast",
		"-timeout=5m",
		"-run", "ConnectionPool|Connect_|SetFingerprint|ApplyVerdict",
		"./pkg/filesystem", "./internal/catalog", "./internal/server",
	)
}

// Vet runs go vet
func Vet() error {
	fmt.Println("Vetting...")
	return sh.RunV("go", "vet", "./...")
}

// Lint lints the codebase with golangci-lint's default linters
func Lint() error {
	fmt.Println("Linting...")
	return run(context.Background(), "golangci-lint", "run", "./...")
}

// CheckNils checks for nils
func CheckNils() error {
	fmt.Println("Running check for nils...")
	return run(context.Background(), "nilaway", "./...")
}

// Tidy prunes go.mod and go.sum
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

// Run starts the server against a scratch catalog, honouring SEEDSTREAM_* overrides
func Run() error {
	mg.Deps(Build)

	env := map[string]string{}
	if os.Getenv("SEEDSTREAM_DB") == "" {
		env["SEEDSTREAM_DB"] = devDB
	}
	if os.Getenv("SEEDSTREAM_LOG_LEVEL") == "" {
		env["SEEDSTREAM_LOG_LEVEL"] = "<root>=INFO;seedstream.pool=DEBUG"
	}

	return sh.RunWithV(env, binary)
}

// Clean removes build artifacts and the scratch catalog
func Clean() error {
	fmt.Println("Cleaning...")
	for _, path := range []string{"bin", coverOut, "coverage.html", devDB} {
		if err := sh.Rm(path); err != nil {
			return err
		}
	}
	return nil
}

// Install installs the binary
func Install() error {
	fmt.Println("Installing...")
	return sh.Run("go", "install", mainPkg)
}

// Fmt formats the code
func Fmt() error {
	fmt.Println("Formatting code...")
	return sh.Run("gofmt", "-s", "-w", "cmd", "internal", "pkg", "magefile.go")
}

// Check runs fmt and vet, then lint, tests and the nil check
func Check() {
	mg.SerialDeps(Fmt, Vet)
	mg.Deps(Lint, Test, CheckNils)
}

// Coverage writes an HTML coverage report
func Coverage() error {
	mg.Deps(Test)
	fmt.Println("Generating coverage report...")
	if err := sh.Run("go", "tool", "cover", "-html="+coverOut, "-o", "coverage.html"); err != nil {
		return err
	}
	fmt.Println("Coverage report generated at coverage.html")
	return nil
}

// run runs a command with the caller's terminal attached
func run(c context.Context, command string, arg ...string) error {
	cmd := exec.CommandContext(c, command, arg...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
