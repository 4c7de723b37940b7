package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestRunCommands_Flags(t *testing.T) {
	commands := map[string]*cobra.Command{
		"plan":    newPlanCmd(),
		"apply":   newApplyCmd(),
		"destroy": newDestroyCmd(),
	}

	flags := []string{"working-dir", "tier", "unit", "parallelism", "fail-fast", "provisioner", "output", "backend", "backend-config"}

	for use, cmd := range commands {
		if cmd.Use != use {
			t.Errorf("expected use '%s', got '%s'", use, cmd.Use)
		}
		for _, flagName := range flags {
			if cmd.Flags().Lookup(flagName) == nil {
				t.Errorf("%s: expected --%s flag", use, flagName)
			}
		}
		if cmd.Flags().ShorthandLookup("w") == nil {
			t.Errorf("%s: expected -w shorthand for --working-dir", use)
		}
		if cmd.Flags().ShorthandLookup("t") == nil {
			t.Errorf("%s: expected -t shorthand for --tier", use)
		}
	}
}

func TestGraphCmd_RendersLayers(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "vpc", `source = "modules/vpc"`)
	writeUnit(t, root, "app", `
source = "modules/app"

dependency "vpc" {
  config_path = "../vpc"
}
`)

	cmd := newGraphCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-w", root})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("graph command failed: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "Layer 1:") || !strings.Contains(output, "Layer 2:") {
		t.Errorf("expected two layers, got:\n%s", output)
	}
	if strings.Index(output, "vpc") > strings.Index(output, "app") {
		t.Errorf("expected vpc before app, got:\n%s", output)
	}
}

func TestGraphCmd_DOT(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "vpc", `source = "modules/vpc"`)

	cmd := newGraphCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-w", root, "-f", "dot"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("graph command failed: %v", err)
	}
	if !strings.Contains(out.String(), "digraph") {
		t.Errorf("expected DOT output, got:\n%s", out.String())
	}
}

func TestValidateCmd_ReportsIssues(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "good", `source = "modules/good"`)
	writeUnit(t, root, "bad", `
source = "modules/bad"

inputs = {
  broken = local.nope
}
`)

	cmd := newValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"-w", root})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out.String(), "bad") {
		t.Errorf("expected the failing unit in output, got:\n%s", out.String())
	}
}

func TestValidateCmd_ValidTree(t *testing.T) {
	root := t.TempDir()
	writeUnit(t, root, "vpc", `source = "modules/vpc"`)

	cmd := newValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-w", root})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out.String(), "valid") {
		t.Errorf("expected success message, got:\n%s", out.String())
	}
}

func writeUnit(t *testing.T, root, key, contents string) {
	t.Helper()
	dir := filepath.Join(root, key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "unit.hcl"), []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}
