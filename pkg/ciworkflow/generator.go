package ciworkflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/stackctl/pkg/graph"
)

// BuildOptions controls workflow construction.
type BuildOptions struct {
	// Name is the workflow display name; defaults to "Deploy infrastructure".
	Name string

	// Tier is forwarded to every stackctl invocation via $STACKCTL_TIER.
	Tier string

	// InstallVersion pins the stackctl version installed in CI jobs.
	InstallVersion string

	// Secrets lists env var names the pipeline expects as CI secrets.
	Secrets []string
}

// Build converts a unit dependency graph into a CI workflow. Deploy jobs run
// "stackctl apply" per unit in topological order; teardown jobs run
// "stackctl destroy" per unit in reverse order.
func Build(g *graph.Graph, opts BuildOptions) (Workflow, error) {
	sorted, err := g.TopologicalSort()
	if err != nil {
		return Workflow{}, fmt.Errorf("failed to sort graph: %w", err)
	}

	jobIDs := make(map[string]string, len(sorted))
	for _, node := range sorted {
		jobIDs[node.Key] = jobID(node.Key)
	}

	var jobs []Job
	for _, node := range sorted {
		jobs = append(jobs, Job{
			ID:        jobIDs[node.Key],
			Name:      fmt.Sprintf("Apply %s", node.Key),
			UnitKey:   node.Key,
			DependsOn: mapJobIDs(node.DependsOn, jobIDs, ""),
			Command:   fmt.Sprintf("stackctl apply --working-dir . --unit %s --tier $STACKCTL_TIER", node.Key),
		})
	}

	var teardown []Job
	for i := len(sorted) - 1; i >= 0; i-- {
		node := sorted[i]
		// A unit is destroyed only after every unit depending on it is gone.
		teardown = append(teardown, Job{
			ID:        "destroy-" + jobIDs[node.Key],
			Name:      fmt.Sprintf("Destroy %s", node.Key),
			UnitKey:   node.Key,
			DependsOn: mapJobIDs(node.DependedOnBy, jobIDs, "destroy-"),
			Command:   fmt.Sprintf("stackctl destroy --working-dir . --unit %s --tier $STACKCTL_TIER", node.Key),
		})
	}

	name := opts.Name
	if name == "" {
		name = "Deploy infrastructure"
	}
	tier := opts.Tier
	if tier == "" {
		tier = "default"
	}

	return Workflow{
		Name:           name,
		Tier:           tier,
		Jobs:           jobs,
		TeardownJobs:   teardown,
		EnvVars:        map[string]string{"STACKCTL_TIER": tier},
		Secrets:        opts.Secrets,
		InstallVersion: opts.InstallVersion,
	}, nil
}

// jobID makes a unit key safe for use as a CI job identifier.
func jobID(key string) string {
	r := strings.NewReplacer("/", "-", ".", "-", " ", "-")
	return r.Replace(key)
}

// mapJobIDs converts unit keys to job IDs, deduplicated and sorted.
func mapJobIDs(keys []string, jobIDs map[string]string, prefix string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, key := range keys {
		id, ok := jobIDs[key]
		if !ok || seen[id] {
			continue
		}
		out = append(out, prefix+id)
		seen[id] = true
	}
	sort.Strings(out)
	return out
}

// installCommand returns the stackctl install one-liner for CI jobs.
func installCommand(version string) string {
	if version != "" && version != "latest" {
		return fmt.Sprintf("curl -sSL https://get.stackctl.dev | sh -s -- --version %s", version)
	}
	return "curl -sSL https://get.stackctl.dev | sh"
}

// sortedMapKeys returns sorted keys from a string map.
func sortedMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// deriveStages creates stage names from the job DAG depth.
func deriveStages(jobs []Job) []string {
	if len(jobs) == 0 {
		return nil
	}

	depths := computeJobDepths(jobs)
	maxDepth := 0
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
	}

	stages := make([]string, maxDepth+1)
	for i := range stages {
		stages[i] = fmt.Sprintf("stage-%d", i)
	}
	return stages
}

// assignStages maps job IDs to their stage names based on depth.
func assignStages(jobs []Job, stages []string) map[string]string {
	depths := computeJobDepths(jobs)
	result := make(map[string]string, len(jobs))
	for _, job := range jobs {
		d := depths[job.ID]
		if d < len(stages) {
			result[job.ID] = stages[d]
		} else {
			result[job.ID] = stages[len(stages)-1]
		}
	}
	return result
}

// computeJobDepths returns the topological depth of each job.
func computeJobDepths(jobs []Job) map[string]int {
	depths := make(map[string]int, len(jobs))
	for _, job := range jobs {
		depths[job.ID] = 0
	}

	changed := true
	for changed {
		changed = false
		for _, job := range jobs {
			for _, dep := range job.DependsOn {
				if depDepth, ok := depths[dep]; ok {
					newDepth := depDepth + 1
					if newDepth > depths[job.ID] {
						depths[job.ID] = newDepth
						changed = true
					}
				}
			}
		}
	}
	return depths
}
