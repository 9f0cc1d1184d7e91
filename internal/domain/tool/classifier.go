package tool

import (
	"strings"
)

// criticalPatterns contains patterns indicating destructive operations or system commands.
// Executions of tools matching these patterns raise a security_alert audit entry.
var criticalPatterns = []string{
	"delete", "remove", "drop", "destroy", "execute", "exec",
	"shell", "command", "admin", "sudo", "root", "truncate",
}

// highPatterns contains patterns indicating write operations or network access.
var highPatterns = []string{
	"write", "create", "update", "modify", "send", "post",
	"upload", "deploy", "install", "connect", "put",
}

// mediumPatterns contains patterns indicating read operations with potential sensitivity.
var mediumPatterns = []string{
	"fetch", "download", "export", "query", "search", "get",
}

// Classify determines the risk level of a tool based on its id and name.
// Classification is case-insensitive and uses pattern matching.
//
// Priority order (highest to lowest):
//   - CRITICAL: destructive operations (delete, exec, shell, admin)
//   - HIGH: write operations (write, create, update, send)
//   - MEDIUM: sensitive reads (fetch, download, export, search)
//   - LOW: everything else (list, help, version)
//
// Limitations:
//   - Uses simple substring matching (e.g., "undelete" also matches "delete")
//   - Descriptions are not analyzed, only ids and names
func Classify(def Definition) RiskLevel {
	name := strings.ToLower(def.ID + " " + def.Name)

	for _, pattern := range criticalPatterns {
		if strings.Contains(name, pattern) {
			return RiskLevelCritical
		}
	}

	for _, pattern := range highPatterns {
		if strings.Contains(name, pattern) {
			return RiskLevelHigh
		}
	}

	for _, pattern := range mediumPatterns {
		if strings.Contains(name, pattern) {
			return RiskLevelMedium
		}
	}

	return RiskLevelLow
}

// ClassifyAll returns a new slice of definitions with RiskLevel populated on
// each. The input slice is not modified.
func ClassifyAll(defs []Definition) []Definition {
	result := make([]Definition, len(defs))
	for i, def := range defs {
		result[i] = def
		result[i].RiskLevel = Classify(def)
	}
	return result
}
