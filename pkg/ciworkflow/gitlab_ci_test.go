package ciworkflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitLabCIGenerator_Generate(t *testing.T) {
	gen := NewGitLabCIGenerator()

	data, err := gen.Generate(deployWorkflow())
	require.NoError(t, err)
	output := string(data)

	assert.Contains(t, output, "stages:")
	assert.Contains(t, output, "- stage-0")
	assert.Contains(t, output, "- stage-1")
	assert.Contains(t, output, "STACKCTL_TIER: prod")
	assert.Contains(t, output, ".install-stackctl: &install-stackctl")
	assert.Contains(t, output, "networking-vpc:")
	assert.Contains(t, output, "services-app:")
	assert.Contains(t, output, "- *install-stackctl")
}

func TestGitLabCIGenerator_StagesFollowDepth(t *testing.T) {
	gen := NewGitLabCIGenerator()

	data, err := gen.Generate(deployWorkflow())
	require.NoError(t, err)
	output := string(data)

	vpcIdx := strings.Index(output, "networking-vpc:")
	require.GreaterOrEqual(t, vpcIdx, 0)
	vpcBlock := output[vpcIdx:]
	assert.Contains(t, vpcBlock[:strings.Index(vpcBlock, "\n\n")], "stage: stage-0")

	appIdx := strings.Index(output, "services-app:")
	require.GreaterOrEqual(t, appIdx, 0)
	appBlock := output[appIdx:]
	assert.Contains(t, appBlock[:strings.Index(appBlock, "\n\n")], "stage: stage-1")
	assert.Contains(t, appBlock, "needs:")
	assert.Contains(t, appBlock, "- networking-vpc")
}

func TestGitLabCIGenerator_GenerateTeardown(t *testing.T) {
	gen := NewGitLabCIGenerator()

	data, err := gen.GenerateTeardown(deployWorkflow())
	require.NoError(t, err)
	require.NotNil(t, data)
	output := string(data)

	assert.Contains(t, output, "destroy-services-app:")
	assert.Contains(t, output, "destroy-networking-vpc:")
	assert.Contains(t, output, "stackctl destroy")
}

func TestGitLabCIGenerator_GenerateTeardown_NoJobsReturnsNil(t *testing.T) {
	gen := NewGitLabCIGenerator()
	data, err := gen.GenerateTeardown(Workflow{})
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestGitLabCIGenerator_SetupComment(t *testing.T) {
	gen := NewGitLabCIGenerator()

	wf := deployWorkflow()
	wf.Secrets = []string{"STACKCTL_SECRET_DB_PASSWORD"}

	data, err := gen.Generate(wf)
	require.NoError(t, err)
	output := string(data)

	assert.True(t, strings.HasPrefix(output, "#"))
	assert.Contains(t, output, "STACKCTL_SECRET_DB_PASSWORD")
}

func TestGitLabCIGenerator_DefaultPaths(t *testing.T) {
	gen := NewGitLabCIGenerator()
	assert.Equal(t, ".gitlab-ci.yml", gen.DefaultOutputPath())
	assert.Equal(t, ".gitlab-ci-teardown.yml", gen.DefaultTeardownOutputPath())
}
