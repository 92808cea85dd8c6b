//go:build mage

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	BuildDir = "bin"

	// Binaries maps output names to their main packages.
	Binaries = map[string]string{
		"drivesync":    "./cmd/server",
		"drivesyncctl": "./cmd/drivesyncctl",
	}

	NATSImage = "nats:2.10-alpine"
)

func sh(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout, cmd.Stderr, cmd.Stdin = os.Stdout, os.Stderr, os.Stdin
	return cmd.Run()
}

func shEnv(env map[string]string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout, cmd.Stderr, cmd.Stdin = os.Stdout, os.Stderr, os.Stdin
	return cmd.Run()
}

func out(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return strings.TrimSpace(buf.String()), err
}

func which(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}

func binPath(name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(BuildDir, name)
}

// ModDownload: prefetch module dependencies.
func ModDownload() error {
	return sh("go", "mod", "download", "all")
}

// Deps: install linters and release tooling.
func Deps() error {
	for _, pkg := range []string{
		"golang.org/x/tools/cmd/goimports@latest",
		"honnef.co/go/tools/cmd/staticcheck@latest",
		"github.com/golangci/golangci-lint/cmd/golangci-lint@latest",
		"golang.org/x/vuln/cmd/govulncheck@latest",
	} {
		if err := sh("go", "install", pkg); err != nil {
			return err
		}
	}
	return nil
}

// Build: build the server and the operator CLI into ./bin.
func Build() error {
	if err := os.MkdirAll(BuildDir, 0o755); err != nil {
		return err
	}
	for name, pkg := range Binaries {
		if err := sh("go", "build", "-trimpath", "-buildvcs=false", "-ldflags", "-s -w", "-o", binPath(name), pkg); err != nil {
			return fmt.Errorf("build %s: %w", name, err)
		}
	}
	return nil
}

// Run: run the server from source.
func Run() error {
	return sh("go", "run", Binaries["drivesync"])
}

// Nats: start a throwaway NATS server with JetStream on :4222 for local runs.
func Nats() error {
	if !which("docker") {
		return errors.New("docker not found")
	}
	return sh("docker", "run", "--rm", "-p", "4222:4222", NATSImage, "-js")
}

// Test: unit tests with the race detector. NO_RACE=1 skips it.
func Test() error {
	if os.Getenv("NO_RACE") == "1" {
		return sh("go", "test", "./...")
	}
	return shEnv(map[string]string{"CGO_ENABLED": "1"}, "go", "test", "-race", "./...")
}

// Cover: coverage report in coverage.html.
func Cover() error {
	if err := sh("go", "test", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	return sh("go", "tool", "cover", "-html=coverage.out", "-o", "coverage.html")
}

// Lint: vet, staticcheck and golangci-lint.
func Lint() error {
	for _, b := range []string{"staticcheck", "golangci-lint"} {
		if !which(b) {
			return fmt.Errorf("%s not found; run 'mage deps'", b)
		}
	}
	if err := sh("go", "vet", "./..."); err != nil {
		return err
	}
	if err := sh("staticcheck", "./..."); err != nil {
		return err
	}
	return sh("golangci-lint", "run")
}

// Vuln: check for known vulnerabilities.
func Vuln() error {
	if !which("govulncheck") {
		return fmt.Errorf("govulncheck not found; run 'mage deps'")
	}
	return sh("govulncheck", "./...")
}

// FmtCheck: fail if files need gofmt.
func FmtCheck() error {
	files, _ := out("gofmt", "-l", ".")
	if files != "" {
		return errors.New("needs gofmt:\n" + files)
	}
	return nil
}

// TidyCheck: fail if go mod tidy changes go.mod or go.sum.
func TidyCheck() error {
	before, _ := out("git", "status", "--porcelain", "--", "go.mod", "go.sum")
	if err := sh("go", "mod", "tidy"); err != nil {
		return err
	}
	after, _ := out("git", "status", "--porcelain", "--", "go.mod", "go.sum")
	if before != after {
		return errors.New("go.mod/go.sum changed; run 'go mod tidy' and commit")
	}
	return nil
}

// Clean: remove build and coverage artifacts.
func Clean() error {
	_ = os.RemoveAll(BuildDir)
	_ = os.Remove("coverage.out")
	_ = os.Remove("coverage.html")
	return nil
}

// Verify: the checks CI runs.
func Verify() error {
	for _, f := range []func() error{FmtCheck, TidyCheck, Lint, Vuln, Build, Test} {
		if err := f(); err != nil {
			return err
		}
	}
	fmt.Println("build and checks passed")
	return nil
}
