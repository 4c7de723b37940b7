package ciworkflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deployWorkflow() Workflow {
	return Workflow{
		Name: "Deploy infrastructure",
		Tier: "prod",
		Jobs: []Job{
			{
				ID:      "networking-vpc",
				Name:    "Apply networking/vpc",
				UnitKey: "networking/vpc",
				Command: "stackctl apply --working-dir . --unit networking/vpc --tier $STACKCTL_TIER",
			},
			{
				ID:        "services-app",
				Name:      "Apply services/app",
				UnitKey:   "services/app",
				DependsOn: []string{"networking-vpc"},
				Command:   "stackctl apply --working-dir . --unit services/app --tier $STACKCTL_TIER",
			},
		},
		TeardownJobs: []Job{
			{
				ID:      "destroy-services-app",
				Name:    "Destroy services/app",
				UnitKey: "services/app",
				Command: "stackctl destroy --working-dir . --unit services/app --tier $STACKCTL_TIER",
			},
			{
				ID:        "destroy-networking-vpc",
				Name:      "Destroy networking/vpc",
				UnitKey:   "networking/vpc",
				DependsOn: []string{"destroy-services-app"},
				Command:   "stackctl destroy --working-dir . --unit networking/vpc --tier $STACKCTL_TIER",
			},
		},
		EnvVars: map[string]string{"STACKCTL_TIER": "prod"},
	}
}

func TestGitHubActionsGenerator_Generate(t *testing.T) {
	gen := NewGitHubActionsGenerator()

	data, err := gen.Generate(deployWorkflow())
	require.NoError(t, err)
	output := string(data)

	assert.Contains(t, output, "name: Deploy infrastructure")
	assert.Contains(t, output, "push:")
	assert.Contains(t, output, "branches: [main]")
	assert.Contains(t, output, "STACKCTL_TIER: prod")
	assert.Contains(t, output, "networking-vpc:")
	assert.Contains(t, output, "services-app:")
	assert.Contains(t, output, "needs: [networking-vpc]")
	assert.Contains(t, output, "actions/checkout@v4")
	assert.Contains(t, output, "Install stackctl")
	assert.Contains(t, output, "curl -sSL https://get.stackctl.dev | sh")
	assert.True(t, strings.Contains(output, "run: >-"), "apply commands use YAML folded style")
}

func TestGitHubActionsGenerator_GenerateTeardown(t *testing.T) {
	gen := NewGitHubActionsGenerator()

	data, err := gen.GenerateTeardown(deployWorkflow())
	require.NoError(t, err)
	require.NotNil(t, data)
	output := string(data)

	assert.Contains(t, output, "name: Teardown infrastructure")
	assert.Contains(t, output, "workflow_dispatch:")
	assert.Contains(t, output, "destroy-services-app:")
	assert.Contains(t, output, "needs: [destroy-services-app]")
	assert.Contains(t, output, "stackctl destroy")
}

func TestGitHubActionsGenerator_GenerateTeardown_NoJobsReturnsNil(t *testing.T) {
	gen := NewGitHubActionsGenerator()
	data, err := gen.GenerateTeardown(Workflow{Name: "Deploy"})
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestGitHubActionsGenerator_SetupComment(t *testing.T) {
	gen := NewGitHubActionsGenerator()

	wf := deployWorkflow()
	wf.Secrets = []string{"STACKCTL_SECRET_DB_PASSWORD", "STACKCTL_SECRET_API_KEY"}

	data, err := gen.Generate(wf)
	require.NoError(t, err)
	output := string(data)

	assert.True(t, strings.HasPrefix(output, "#"))
	assert.Contains(t, output, "STACKCTL_SECRET_DB_PASSWORD")
	assert.Contains(t, output, "STACKCTL_SECRET_API_KEY")
}

func TestGitHubActionsGenerator_CustomInstallVersion(t *testing.T) {
	gen := NewGitHubActionsGenerator()

	wf := deployWorkflow()
	wf.InstallVersion = "v1.2.3"

	data, err := gen.Generate(wf)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--version v1.2.3")
}

func TestGitHubActionsGenerator_DefaultPaths(t *testing.T) {
	gen := NewGitHubActionsGenerator()
	assert.Equal(t, ".github/workflows/deploy.yml", gen.DefaultOutputPath())
	assert.Equal(t, ".github/workflows/teardown.yml", gen.DefaultTeardownOutputPath())
}

func TestGitHubActionsGenerator_ExplicitSteps(t *testing.T) {
	gen := NewGitHubActionsGenerator()

	wf := Workflow{
		Name: "Deploy infrastructure",
		Jobs: []Job{
			{
				ID:   "preflight",
				Name: "Preflight",
				Steps: []Step{
					{Uses: "actions/setup-go@v5", With: map[string]string{"go-version": "1.22"}},
					{Name: "Validate tree", Run: "stackctl validate --working-dir ."},
				},
			},
		},
		EnvVars: map[string]string{},
	}

	data, err := gen.Generate(wf)
	require.NoError(t, err)
	output := string(data)

	assert.Contains(t, output, "uses: actions/setup-go@v5")
	assert.Contains(t, output, "go-version: 1.22")
	assert.Contains(t, output, "run: stackctl validate --working-dir .")
}
