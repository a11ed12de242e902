package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseStages parses the --stages flag form "2m:100,6m:500,2m:0".
func ParseStages(s string) ([]Stage, error) {
	var stages []Stage
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		durStr, targetStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid stage %q: expected duration:target", part)
		}

		d, err := ParseDuration(strings.TrimSpace(durStr))
		if err != nil {
			return nil, fmt.Errorf("invalid stage %q: %w", part, err)
		}
		target, err := strconv.Atoi(strings.TrimSpace(targetStr))
		if err != nil {
			return nil, fmt.Errorf("invalid stage %q: target must be an integer", part)
		}

		stages = append(stages, Stage{Duration: Duration(d), Target: target})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages in %q", s)
	}
	return stages, nil
}

// ParseThresholdFlags parses repeated --threshold metric=expr values.
func ParseThresholdFlags(values []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, v := range values {
		metric, expr, ok := strings.Cut(v, "=")
		metric, expr = strings.TrimSpace(metric), strings.TrimSpace(expr)
		if !ok || metric == "" || expr == "" {
			return nil, fmt.Errorf("invalid threshold %q: expected metric=expression", v)
		}
		out[metric] = append(out[metric], expr)
	}
	return out, nil
}
