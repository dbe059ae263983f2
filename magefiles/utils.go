//go:build mage

package main

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"strings"
)

type cmdOptions struct {
	args   []string
	dir    string
	stream bool
}

type cmdOption func(*cmdOptions)

func withArgs(args ...string) cmdOption {
	return func(o *cmdOptions) {
		o.args = args
	}
}

func withDir(dir string) cmdOption {
	return func(o *cmdOptions) {
		o.dir = dir
	}
}

func withStream() cmdOption {
	return func(o *cmdOptions) {
		o.stream = true
	}
}

func executeCmd(name string, options ...cmdOption) (string, error) {
	opts := &cmdOptions{}
	for _, option := range options {
		option(opts)
	}

	cmd := exec.Command(name, opts.args...)
	if opts.dir != "" {
		cmd.Dir = opts.dir
	}

	var out bytes.Buffer
	if opts.stream {
		cmd.Stdout = io.MultiWriter(os.Stdout, &out)
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = &out
		cmd.Stderr = &out
	}

	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}
