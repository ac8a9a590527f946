package errors

import (
	"fmt"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal output.
// Non-NexusErrors are printed as-is with an "Error:" prefix.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ne, ok := as(err)
	if !ok {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ne.Message)

	if ne.Suggestion != "" {
		fmt.Fprintf(&sb, "  Suggestion: %s\n", ne.Suggestion)
	}

	fmt.Fprintf(&sb, "  Code: %s\n", ne.Code)
	return sb.String()
}

// FormatForLog returns a single-line representation including details,
// sorted by key for stable log output.
func FormatForLog(err error) string {
	if err == nil {
		return ""
	}

	ne, ok := as(err)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString(ne.Error())

	if len(ne.Details) > 0 {
		keys := make([]string, 0, len(ne.Details))
		for k := range ne.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%s", k, ne.Details[k])
		}
	}

	if ne.Cause != nil && ne.Cause.Error() != ne.Message {
		fmt.Fprintf(&sb, " cause=%q", ne.Cause.Error())
	}

	return sb.String()
}
