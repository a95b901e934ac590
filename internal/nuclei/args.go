package nuclei

import (
	"strconv"

	"github.com/hakim/waverly/internal/models"
)

// BuildArgs constructs the command line arguments for one nuclei invocation.
//
// Output is always JSONL so results can be parsed incrementally. Each option
// maps to exactly one flag and is omitted when unset. Targets are passed as
// repeated -target flags rather than via stdin so the argument list fully
// describes the invocation.
func BuildArgs(targets, templatePaths []string, opts models.TaskOptions) []string {
	args := []string{"-jsonl", "-silent", "-no-color"}

	if opts.RateLimit > 0 {
		args = append(args, "-rl", strconv.Itoa(opts.RateLimit))
	}
	if opts.Concurrency > 0 {
		args = append(args, "-c", strconv.Itoa(opts.Concurrency))
	}
	if opts.Severity != "" {
		args = append(args, "-severity", opts.Severity)
	}
	if opts.Proxy != "" {
		args = append(args, "-proxy", opts.Proxy)
	}
	if opts.Interactsh != "" {
		args = append(args, "-interactsh-url", opts.Interactsh)
	}

	for _, template := range templatePaths {
		args = append(args, "-t", template)
	}
	for _, target := range targets {
		args = append(args, "-target", target)
	}

	if opts.OutputPath != "" {
		args = append(args, "-o", opts.OutputPath)
	}

	return args
}
