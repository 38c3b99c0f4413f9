package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPipelinesCommand_ListsBuiltins(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"pipelines"})

	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"can-local", "avtp-local", "can-containers", "avtp-containers"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("output missing pipeline %q:\n%s", name, out.String())
		}
	}
}

func TestUpCommand_UnknownPipeline(t *testing.T) {
	root := newRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"up", "no-such-pipeline"})

	if err := root.Execute(); err == nil {
		t.Fatal("unknown pipeline accepted")
	}
}

func TestUpCommand_MissingFile(t *testing.T) {
	root := newRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"up", "--file", "/nonexistent/pipeline.yaml"})

	if err := root.Execute(); err == nil {
		t.Fatal("missing pipeline file accepted")
	}
}
