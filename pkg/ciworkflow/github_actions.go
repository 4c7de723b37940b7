package ciworkflow

import (
	"bytes"
	"fmt"
	"strings"
)

// GitHubActionsGenerator generates GitHub Actions workflow YAML.
type GitHubActionsGenerator struct{}

// NewGitHubActionsGenerator creates a new GitHub Actions generator.
func NewGitHubActionsGenerator() *GitHubActionsGenerator {
	return &GitHubActionsGenerator{}
}

// DefaultOutputPath returns the conventional path for the deploy workflow.
func (g *GitHubActionsGenerator) DefaultOutputPath() string {
	return ".github/workflows/deploy.yml"
}

// DefaultTeardownOutputPath returns the conventional path for the teardown workflow.
func (g *GitHubActionsGenerator) DefaultTeardownOutputPath() string {
	return ".github/workflows/teardown.yml"
}

// Generate produces a GitHub Actions deploy workflow YAML file.
func (g *GitHubActionsGenerator) Generate(w Workflow) ([]byte, error) {
	var buf bytes.Buffer

	writeGitHubSetupComment(&buf, w)

	buf.WriteString(fmt.Sprintf("name: %s\n", w.Name))
	buf.WriteString("on:\n")
	buf.WriteString("  push:\n")
	buf.WriteString("    branches: [main]\n")
	buf.WriteString("\n")

	if len(w.EnvVars) > 0 {
		buf.WriteString("env:\n")
		for _, k := range sortedMapKeys(w.EnvVars) {
			buf.WriteString(fmt.Sprintf("  %s: %s\n", k, w.EnvVars[k]))
		}
		buf.WriteString("\n")
	}

	buf.WriteString("jobs:\n")
	for _, job := range w.Jobs {
		writeGitHubJob(&buf, job, w.InstallVersion)
	}

	return buf.Bytes(), nil
}

// GenerateTeardown produces a GitHub Actions teardown workflow YAML file.
// Teardown runs on manual dispatch only.
func (g *GitHubActionsGenerator) GenerateTeardown(w Workflow) ([]byte, error) {
	if len(w.TeardownJobs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer

	teardownName := strings.Replace(w.Name, "Deploy", "Teardown", 1)
	if teardownName == w.Name {
		teardownName = w.Name + " - Teardown"
	}
	buf.WriteString(fmt.Sprintf("name: %s\n", teardownName))
	buf.WriteString("on:\n")
	buf.WriteString("  workflow_dispatch:\n")
	buf.WriteString("\n")

	if len(w.EnvVars) > 0 {
		buf.WriteString("env:\n")
		for _, k := range sortedMapKeys(w.EnvVars) {
			buf.WriteString(fmt.Sprintf("  %s: %s\n", k, w.EnvVars[k]))
		}
		buf.WriteString("\n")
	}

	buf.WriteString("jobs:\n")
	for _, job := range w.TeardownJobs {
		writeGitHubJob(&buf, job, w.InstallVersion)
	}

	return buf.Bytes(), nil
}

// writeGitHubJob writes a single job in GitHub Actions YAML format.
func writeGitHubJob(buf *bytes.Buffer, job Job, installVersion string) {
	buf.WriteString(fmt.Sprintf("  %s:\n", job.ID))
	buf.WriteString(fmt.Sprintf("    name: %s\n", job.Name))
	if len(job.DependsOn) > 0 {
		buf.WriteString(fmt.Sprintf("    needs: [%s]\n", strings.Join(job.DependsOn, ", ")))
	}
	buf.WriteString("    runs-on: ubuntu-latest\n")
	buf.WriteString("    steps:\n")

	// Every job needs the unit tree from the repository.
	buf.WriteString("      - uses: actions/checkout@v4\n")

	buf.WriteString("      - name: Install stackctl\n")
	buf.WriteString(fmt.Sprintf("        run: %s\n", installCommand(installVersion)))

	if len(job.Steps) > 0 {
		for _, step := range job.Steps {
			if step.Uses != "" {
				buf.WriteString(fmt.Sprintf("      - uses: %s\n", step.Uses))
				if len(step.With) > 0 {
					buf.WriteString("        with:\n")
					for _, k := range sortedMapKeys(step.With) {
						buf.WriteString(fmt.Sprintf("          %s: %s\n", k, step.With[k]))
					}
				}
			} else if step.Run != "" {
				buf.WriteString(fmt.Sprintf("      - name: %s\n", step.Name))
				buf.WriteString(fmt.Sprintf("        run: %s\n", step.Run))
			}
		}
	} else if job.Command != "" {
		buf.WriteString(fmt.Sprintf("      - name: %s\n", job.Name))
		buf.WriteString(fmt.Sprintf("        run: >-\n          %s\n", job.Command))
	}

	buf.WriteString("\n")
}

// writeGitHubSetupComment writes a comment block describing required CI configuration.
func writeGitHubSetupComment(buf *bytes.Buffer, w Workflow) {
	if len(w.Secrets) == 0 {
		return
	}

	buf.WriteString("# Configure these in Settings > Secrets and variables > Actions:\n")
	buf.WriteString(fmt.Sprintf("#   Secrets: %s\n", strings.Join(w.Secrets, ", ")))
	buf.WriteString("#\n")
	buf.WriteString("# Secret values are read by stackctl through STACKCTL_SECRET_* environment\n")
	buf.WriteString("# variables during apply.\n")
	buf.WriteString("\n")
}
