package config

import "fmt"

// Merge combines two configs where overlay takes precedence over base:
//   - version: must agree if both declare it (non-zero); fatal error on mismatch
//   - scalars: overlay wins when set
//   - arguments: deep merge, overlay keys win, nested maps merged recursively
//   - include, exclude: concatenate (base first, then overlay)
func Merge(base, overlay *Config) (*Config, error) {
	if base == nil {
		return overlay, nil
	}
	if overlay == nil {
		return base, nil
	}

	result := &Config{}

	if err := mergeVersion(base.Version, overlay.Version, &result.Version); err != nil {
		return nil, err
	}

	result.Codemod = pick(base.Codemod, overlay.Codemod)
	result.Target = pick(base.Target, overlay.Target)
	result.WorkerMode = pick(base.WorkerMode, overlay.WorkerMode)
	result.StalePolicy = pick(base.StalePolicy, overlay.StalePolicy)
	result.LogDir = pick(base.LogDir, overlay.LogDir)
	result.Workers = pick(base.Workers, overlay.Workers)
	result.MaxAttempts = pick(base.MaxAttempts, overlay.MaxAttempts)
	result.WorkerTimeout = pick(base.WorkerTimeout, overlay.WorkerTimeout)
	result.ScanInterval = pick(base.ScanInterval, overlay.ScanInterval)

	result.DryRun = base.DryRun
	if overlay.DryRun != nil {
		result.DryRun = overlay.DryRun
	}
	result.Format = base.Format
	if overlay.Format != nil {
		result.Format = overlay.Format
	}

	result.Arguments = mergeArguments(base.Arguments, overlay.Arguments)

	result.Include = append(result.Include, base.Include...)
	result.Include = append(result.Include, overlay.Include...)
	result.Exclude = append(result.Exclude, base.Exclude...)
	result.Exclude = append(result.Exclude, overlay.Exclude...)

	return result, nil
}

// MergeAll merges multiple configs in order (lowest precedence first).
// Returns an error if any version mismatch is found.
func MergeAll(configs []*Config) (*Config, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no configs to merge")
	}

	result := configs[0]
	for i := 1; i < len(configs); i++ {
		var err error
		result, err = Merge(result, configs[i])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func pick[T comparable](base, overlay T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

func mergeVersion(base, overlay int, out *int) error {
	switch {
	case base == 0 && overlay == 0:
		*out = 0 // neither declares; validation will catch this
	case base == 0:
		*out = overlay
	case overlay == 0:
		*out = base
	case base == overlay:
		*out = base
	default:
		return fmt.Errorf("config version mismatch: one layer declares version %d, another declares version %d — all config layers must agree on version", base, overlay)
	}
	return nil
}

func mergeArguments(base, overlay map[string]any) map[string]any {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}

	result := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		bm, baseIsMap := result[k].(map[string]any)
		om, overlayIsMap := v.(map[string]any)
		if baseIsMap && overlayIsMap {
			result[k] = mergeArguments(bm, om)
			continue
		}
		result[k] = v // overlay wins
	}
	return result
}
