// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// PrintTotalFailureSummary prints a failed operation with its suggestions.
// Example output:
//
//	✗ Failed to scan: no fingerprints match product "joomla%" version "%"
//
//	💡 Suggestions:
//	  → List known products:        wafp products
//	  → Relax the filters:          wafp scan <url> -p '%' -V '%'
//
// Quiet mode keeps only the error line.
func (f *formatter) PrintTotalFailureSummary(operation string, err error, errorCode string, suggestions []string) error {
	if err == nil {
		return nil
	}

	if f.IsStructured() {
		return f.PrintData(map[string]any{
			"success":    false,
			"operation":  operation,
			"error":      err.Error(),
			"error_code": errorCode,
		})
	}

	if f.quiet {
		return f.PrintError(err)
	}

	var sb strings.Builder

	errorMsg := fmt.Sprintf("✗ Failed to %s: %v", operation, err)
	if f.color {
		sb.WriteString(color.RedString("%s\n", errorMsg))
	} else {
		sb.WriteString(errorMsg + "\n")
	}
	writeSuggestions(&sb, suggestions)

	_, writeErr := io.WriteString(f.stderr, sb.String())
	return writeErr
}

func writeSuggestions(sb *strings.Builder, suggestions []string) {
	if len(suggestions) == 0 {
		return
	}
	sb.WriteString("\n💡 Suggestions:\n")
	for _, s := range suggestions {
		sb.WriteString(fmt.Sprintf("  → %s\n", s))
	}
}
