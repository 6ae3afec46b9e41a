package gateway

import "strings"

// validateSpawnRequest is the one hand-rolled validation corner of the
// Gateway: task/project_path non-empty, task no longer than the
// configured length cap. No third-party validator in the retrieval pack has a
// grounded, non-test-only implementation to adapt, so this is done by
// hand rather than pulled in unjustified.
func validateSpawnRequest(task, projectPath string, maxTaskLength int) string {
	task = strings.TrimSpace(task)
	projectPath = strings.TrimSpace(projectPath)
	switch {
	case task == "":
		return "task must not be empty"
	case maxTaskLength > 0 && len(task) > maxTaskLength:
		return "task exceeds maximum length"
	case projectPath == "":
		return "project_path must not be empty"
	default:
		return ""
	}
}
