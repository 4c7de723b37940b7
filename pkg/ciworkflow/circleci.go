package ciworkflow

import (
	"bytes"
	"fmt"
	"strings"
)

// CircleCIGenerator generates CircleCI pipeline YAML.
type CircleCIGenerator struct{}

// NewCircleCIGenerator creates a new CircleCI generator.
func NewCircleCIGenerator() *CircleCIGenerator {
	return &CircleCIGenerator{}
}

// DefaultOutputPath returns the conventional path for the pipeline.
func (g *CircleCIGenerator) DefaultOutputPath() string {
	return ".circleci/config.yml"
}

// DefaultTeardownOutputPath returns the conventional path for teardown.
func (g *CircleCIGenerator) DefaultTeardownOutputPath() string {
	return ".circleci/teardown.yml"
}

// Generate produces a CircleCI pipeline YAML file.
func (g *CircleCIGenerator) Generate(w Workflow) ([]byte, error) {
	var buf bytes.Buffer

	writeCircleCISetupComment(&buf, w)
	writeCircleCIPipeline(&buf, sanitizeCircleCIID(w.Name), w.Jobs, w)

	return buf.Bytes(), nil
}

// GenerateTeardown produces a CircleCI teardown pipeline YAML file.
func (g *CircleCIGenerator) GenerateTeardown(w Workflow) ([]byte, error) {
	if len(w.TeardownJobs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	writeCircleCIPipeline(&buf, "teardown", w.TeardownJobs, w)
	return buf.Bytes(), nil
}

// writeCircleCIPipeline writes the commands, jobs, and workflow sections.
func writeCircleCIPipeline(buf *bytes.Buffer, workflowID string, jobs []Job, w Workflow) {
	buf.WriteString("version: 2.1\n\n")

	buf.WriteString("commands:\n")
	buf.WriteString("  install-stackctl:\n")
	buf.WriteString("    steps:\n")
	buf.WriteString("      - run:\n")
	buf.WriteString("          name: Install stackctl\n")
	buf.WriteString(fmt.Sprintf("          command: %s\n", installCommand(w.InstallVersion)))
	buf.WriteString("\n")

	buf.WriteString("jobs:\n")
	for _, job := range jobs {
		writeCircleCIJob(buf, job, w.EnvVars)
	}

	buf.WriteString("workflows:\n")
	buf.WriteString(fmt.Sprintf("  %s:\n", workflowID))
	buf.WriteString("    jobs:\n")
	for _, job := range jobs {
		if len(job.DependsOn) == 0 {
			buf.WriteString(fmt.Sprintf("      - %s\n", job.ID))
			continue
		}
		buf.WriteString(fmt.Sprintf("      - %s:\n", job.ID))
		buf.WriteString("          requires:\n")
		for _, dep := range job.DependsOn {
			buf.WriteString(fmt.Sprintf("            - %s\n", dep))
		}
	}
}

// writeCircleCIJob writes a single job in CircleCI format.
func writeCircleCIJob(buf *bytes.Buffer, job Job, envVars map[string]string) {
	buf.WriteString(fmt.Sprintf("  %s:\n", job.ID))
	buf.WriteString("    docker:\n")
	buf.WriteString("      - image: cimg/base:current\n")

	// CircleCI has no pipeline-level env block; repeat per job.
	if len(envVars) > 0 {
		buf.WriteString("    environment:\n")
		for _, k := range sortedMapKeys(envVars) {
			buf.WriteString(fmt.Sprintf("      %s: %s\n", k, envVars[k]))
		}
	}

	buf.WriteString("    steps:\n")
	buf.WriteString("      - checkout\n")
	buf.WriteString("      - install-stackctl\n")

	if len(job.Steps) > 0 {
		for _, step := range job.Steps {
			if step.Run != "" {
				buf.WriteString("      - run:\n")
				buf.WriteString(fmt.Sprintf("          name: %s\n", step.Name))
				buf.WriteString(fmt.Sprintf("          command: %s\n", step.Run))
			}
		}
	} else if job.Command != "" {
		buf.WriteString("      - run:\n")
		buf.WriteString(fmt.Sprintf("          name: %s\n", job.Name))
		buf.WriteString(fmt.Sprintf("          command: >-\n            %s\n", job.Command))
	}

	buf.WriteString("\n")
}

// writeCircleCISetupComment writes configuration instructions.
func writeCircleCISetupComment(buf *bytes.Buffer, w Workflow) {
	if len(w.Secrets) == 0 {
		return
	}

	buf.WriteString("# Configure these in Project Settings > Environment Variables:\n")
	buf.WriteString(fmt.Sprintf("#   %s\n", strings.Join(w.Secrets, ", ")))
	buf.WriteString("#\n")
	buf.WriteString("# Secret values are read by stackctl through STACKCTL_SECRET_* environment\n")
	buf.WriteString("# variables during apply.\n")
	buf.WriteString("\n")
}

// sanitizeCircleCIID makes a workflow name safe for YAML keys.
func sanitizeCircleCIID(name string) string {
	r := strings.NewReplacer(" ", "-", "/", "-", ".", "-")
	return strings.ToLower(r.Replace(name))
}
