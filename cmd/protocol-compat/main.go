// Package main provides a CLI that checks a gateway event catalog revision
// for changes that would break existing clients.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"huddle/internal/eventcatalog"
)

func main() {
	basePath := flag.String("base", "", "base events.yml path")
	revisionPath := flag.String("revision", "", "revision events.yml path")
	flag.Parse()

	if strings.TrimSpace(*basePath) == "" || strings.TrimSpace(*revisionPath) == "" {
		fmt.Fprintln(os.Stderr, "usage: protocol-compat -base <path> -revision <path>")
		os.Exit(2)
	}

	base, err := eventcatalog.Load(*basePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base catalog: %v\n", err)
		os.Exit(1)
	}
	revision, err := eventcatalog.Load(*revisionPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load revision catalog: %v\n", err)
		os.Exit(1)
	}

	issues := eventcatalog.Compare(base, revision)
	if len(issues) > 0 {
		fmt.Fprintln(os.Stderr, "backward compatibility check failed:")
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "- %s\n", issue)
		}
		os.Exit(1)
	}

	fmt.Println("protocol compatibility check passed")
}
