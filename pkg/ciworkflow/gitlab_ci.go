package ciworkflow

import (
	"bytes"
	"fmt"
	"strings"
)

// GitLabCIGenerator generates GitLab CI pipeline YAML.
type GitLabCIGenerator struct{}

// NewGitLabCIGenerator creates a new GitLab CI generator.
func NewGitLabCIGenerator() *GitLabCIGenerator {
	return &GitLabCIGenerator{}
}

// DefaultOutputPath returns the conventional path for the pipeline.
func (g *GitLabCIGenerator) DefaultOutputPath() string {
	return ".gitlab-ci.yml"
}

// DefaultTeardownOutputPath returns the conventional path for the teardown pipeline.
func (g *GitLabCIGenerator) DefaultTeardownOutputPath() string {
	return ".gitlab-ci-teardown.yml"
}

// Generate produces a GitLab CI pipeline YAML file.
func (g *GitLabCIGenerator) Generate(w Workflow) ([]byte, error) {
	var buf bytes.Buffer

	writeGitLabSetupComment(&buf, w)
	writeGitLabPipeline(&buf, w.Jobs, w)

	return buf.Bytes(), nil
}

// GenerateTeardown produces a GitLab CI teardown pipeline YAML file.
func (g *GitLabCIGenerator) GenerateTeardown(w Workflow) ([]byte, error) {
	if len(w.TeardownJobs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	writeGitLabPipeline(&buf, w.TeardownJobs, w)
	return buf.Bytes(), nil
}

// writeGitLabPipeline writes stages, variables, the install anchor, and jobs.
func writeGitLabPipeline(buf *bytes.Buffer, jobs []Job, w Workflow) {
	// GitLab needs explicit stages; derive one per DAG depth so jobs at the
	// same depth run concurrently.
	stages := deriveStages(jobs)
	buf.WriteString("stages:\n")
	for _, stage := range stages {
		buf.WriteString(fmt.Sprintf("  - %s\n", stage))
	}
	buf.WriteString("\n")

	if len(w.EnvVars) > 0 {
		buf.WriteString("variables:\n")
		for _, k := range sortedMapKeys(w.EnvVars) {
			buf.WriteString(fmt.Sprintf("  %s: %s\n", k, w.EnvVars[k]))
		}
		buf.WriteString("\n")
	}

	buf.WriteString(".install-stackctl: &install-stackctl\n")
	buf.WriteString(fmt.Sprintf("  - %s\n", installCommand(w.InstallVersion)))
	buf.WriteString("\n")

	stageMap := assignStages(jobs, stages)
	for _, job := range jobs {
		writeGitLabJob(buf, job, stageMap[job.ID])
	}
}

// writeGitLabJob writes a single job in GitLab CI format.
func writeGitLabJob(buf *bytes.Buffer, job Job, stage string) {
	buf.WriteString(fmt.Sprintf("%s:\n", job.ID))
	buf.WriteString(fmt.Sprintf("  stage: %s\n", stage))

	if len(job.DependsOn) > 0 {
		buf.WriteString("  needs:\n")
		for _, dep := range job.DependsOn {
			buf.WriteString(fmt.Sprintf("    - %s\n", dep))
		}
	}

	buf.WriteString("  image: ubuntu:latest\n")
	buf.WriteString("  script:\n")
	buf.WriteString("    - *install-stackctl\n")

	if len(job.Steps) > 0 {
		for _, step := range job.Steps {
			if step.Run != "" {
				buf.WriteString(fmt.Sprintf("    - %s\n", step.Run))
			}
		}
	} else if job.Command != "" {
		buf.WriteString(fmt.Sprintf("    - >-\n      %s\n", job.Command))
	}

	buf.WriteString("\n")
}

// writeGitLabSetupComment writes configuration instructions.
func writeGitLabSetupComment(buf *bytes.Buffer, w Workflow) {
	if len(w.Secrets) == 0 {
		return
	}

	buf.WriteString("# Configure these in Settings > CI/CD > Variables (Protected/Masked):\n")
	buf.WriteString(fmt.Sprintf("#   %s\n", strings.Join(w.Secrets, ", ")))
	buf.WriteString("#\n")
	buf.WriteString("# Secret values are read by stackctl through STACKCTL_SECRET_* environment\n")
	buf.WriteString("# variables during apply.\n")
	buf.WriteString("\n")
}
