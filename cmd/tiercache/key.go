package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tiercache/pkg/cache"
)

func newKeyCmd() *cobra.Command {
	var kwargs []string

	cmd := &cobra.Command{
		Use:   "key [args...]",
		Short: "Print the cache key for a set of call arguments",
		Long: `Print the cache key derived from positional and keyword arguments.
Each value is parsed as JSON when possible, so 3 is a number and "3" a string.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			positional := make([]any, 0, len(args))
			for _, a := range args {
				positional = append(positional, parseArg(a))
			}

			kw, err := parseKwargs(kwargs)
			if err != nil {
				return err
			}
			fmt.Println(cache.GenerateKey(positional, kw))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&kwargs, "kw", nil, "keyword argument as name=value (repeatable)")
	return cmd
}

func parseKwargs(pairs []string) (map[string]any, error) {
	kw := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --kw %q (use name=value)", p)
		}
		kw[name] = parseArg(value)
	}
	return kw, nil
}

func parseArg(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
