// Package opentofu implements a provisioner that shells out to the
// OpenTofu/Terraform binary in each unit's working directory.
package opentofu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/davidthor/stackctl/pkg/provisioner"
)

func init() {
	// Register both opentofu and terraform names
	provisioner.Register("opentofu", func() (provisioner.Provisioner, error) {
		return NewProvisioner("tofu")
	})
	provisioner.Register("terraform", func() (provisioner.Provisioner, error) {
		return NewProvisioner("terraform")
	})
}

// Provisioner runs tofu/terraform commands per unit directory.
type Provisioner struct {
	// binaryPath is the resolved path to the tofu/terraform binary
	binaryPath string
	// binaryName is "tofu" or "terraform"
	binaryName string
}

// NewProvisioner creates an OpenTofu/Terraform provisioner, falling back to
// whichever of the two binaries is installed.
func NewProvisioner(binaryName string) (*Provisioner, error) {
	binaryPath, err := exec.LookPath(binaryName)
	if err != nil {
		if binaryName == "tofu" {
			binaryPath, err = exec.LookPath("terraform")
			if err == nil {
				binaryName = "terraform"
			}
		} else {
			binaryPath, err = exec.LookPath("tofu")
			if err == nil {
				binaryName = "tofu"
			}
		}
		if err != nil {
			return nil, fmt.Errorf("neither tofu nor terraform binary found: %w", err)
		}
	}

	return &Provisioner{
		binaryPath: binaryPath,
		binaryName: binaryName,
	}, nil
}

func (p *Provisioner) Name() string {
	return "opentofu"
}

// tfOutput is a single entry of `output -json`.
type tfOutput struct {
	Value     interface{} `json:"value"`
	Type      interface{} `json:"type"`
	Sensitive bool        `json:"sensitive"`
}

func (p *Provisioner) Apply(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
	if err := p.prepare(ctx, req); err != nil {
		return nil, err
	}

	args := []string{"apply", "-auto-approve", "-input=false"}
	args = p.withVarFile(req.WorkDir, args)

	output, err := p.run(ctx, req, args)
	if err != nil {
		return nil, fmt.Errorf("apply failed: %w\nOutput: %s", err, output)
	}

	outputs, err := p.readOutputs(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get outputs: %w", err)
	}

	return &provisioner.Result{Outputs: outputs}, nil
}

func (p *Provisioner) Destroy(ctx context.Context, req provisioner.Request) error {
	if err := p.prepare(ctx, req); err != nil {
		return err
	}

	args := []string{"destroy", "-auto-approve", "-input=false"}
	args = p.withVarFile(req.WorkDir, args)

	output, err := p.run(ctx, req, args)
	if err != nil {
		return fmt.Errorf("destroy failed: %w\nOutput: %s", err, output)
	}

	return nil
}

func (p *Provisioner) Plan(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
	if err := p.prepare(ctx, req); err != nil {
		return nil, err
	}

	args := []string{"plan", "-json", "-input=false"}
	args = p.withVarFile(req.WorkDir, args)

	output, err := p.run(ctx, req, args)
	if err != nil {
		return nil, fmt.Errorf("plan failed: %w", err)
	}

	return &provisioner.Result{Plan: parsePlanOutput(output)}, nil
}

// prepare writes the tfvars file and initializes the working directory.
func (p *Provisioner) prepare(ctx context.Context, req provisioner.Request) error {
	if err := p.writeTFVars(req.WorkDir, req.Inputs); err != nil {
		return fmt.Errorf("failed to write tfvars: %w", err)
	}

	if _, err := os.Stat(filepath.Join(req.WorkDir, ".terraform")); err == nil {
		return nil
	}

	if _, err := p.run(ctx, req, []string{"init", "-input=false"}); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	return nil
}

func (p *Provisioner) writeTFVars(workDir string, inputs map[string]interface{}) error {
	if len(inputs) == 0 {
		return nil
	}

	data, err := json.MarshalIndent(inputs, "", "  ")
	if err != nil {
		return err
	}

	varFile := filepath.Join(workDir, "terraform.tfvars.json")
	return os.WriteFile(varFile, data, 0644)
}

func (p *Provisioner) withVarFile(workDir string, args []string) []string {
	varFile := filepath.Join(workDir, "terraform.tfvars.json")
	if _, err := os.Stat(varFile); err == nil {
		args = append(args, "-var-file=terraform.tfvars.json")
	}
	return args
}

func (p *Provisioner) readOutputs(ctx context.Context, req provisioner.Request) (map[string]interface{}, error) {
	output, err := p.run(ctx, req, []string{"output", "-json"})
	if err != nil {
		// No outputs is fine
		return map[string]interface{}{}, nil
	}

	var tfOutputs map[string]tfOutput
	if err := json.Unmarshal([]byte(output), &tfOutputs); err != nil {
		return nil, err
	}

	outputs := make(map[string]interface{}, len(tfOutputs))
	for k, v := range tfOutputs {
		outputs[k] = v.Value
	}
	return outputs, nil
}

// parsePlanOutput summarizes the line-delimited JSON plan stream.
func parsePlanOutput(output string) *provisioner.PlanSummary {
	summary := &provisioner.PlanSummary{}

	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}

		var msg struct {
			Change *struct {
				Action []string `json:"action"`
			} `json:"change"`
		}
		if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Change == nil {
			continue
		}

		switch mapAction(msg.Change.Action) {
		case "create":
			summary.Create++
		case "update":
			summary.Update++
		case "delete":
			summary.Delete++
		case "replace":
			summary.Replace++
		}
	}

	return summary
}

func mapAction(actions []string) string {
	if contains(actions, "create") && contains(actions, "delete") {
		return "replace"
	}
	for _, action := range []string{"create", "update", "delete"} {
		if contains(actions, action) {
			return action
		}
	}
	return "noop"
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func (p *Provisioner) run(ctx context.Context, req provisioner.Request, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binaryPath, args...)
	cmd.Dir = req.WorkDir

	cmd.Env = os.Environ()
	for k, v := range req.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// Disable interactive prompts
	cmd.Env = append(cmd.Env, "TF_INPUT=0")
	cmd.Env = append(cmd.Env, "TF_IN_AUTOMATION=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if req.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdout, req.Stdout)
	}
	if req.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, req.Stderr)
	}

	err := cmd.Run()
	if err != nil {
		return stdout.String(), fmt.Errorf("%w: %s", err, stderr.String())
	}

	return stdout.String(), nil
}

var _ provisioner.Provisioner = (*Provisioner)(nil)
