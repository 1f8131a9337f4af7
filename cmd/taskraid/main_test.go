package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	root.AddCommand(newServeCmd(), newVersionCmd())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "taskraid dev") {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Setenv("TASKRAID_RETRY_ATTEMPTS", "11")
	root := newRootCmd()
	root.AddCommand(newServeCmd())
	root.SetArgs([]string{"serve", "--config", ""})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config error, got %v", err)
	}
}
