package isapi

import (
	"context"
	"log/slog"
)

// Some image settings are mutually exclusive and the camera only tells you
// at write time, via a sub-status code. Known codes map to a corrective
// write that clears the blocker; the write is then retried.
//
// The camera validates conflicts against its current state, not the PUT
// body, so the corrective write must go out as its own request before the
// retry. Combining both into one document does not resolve the conflict.

const maxConflictRetries = 2

type conflictRule struct {
	code string
	// changedPath narrows the rule to writes against one path. Empty
	// matches any path. MutexWithWDR is reported in both directions:
	// when the write targets WDR itself, the blockers are BLC/HLC, not
	// WDR, so that entry must come before the generic one.
	changedPath string
	corrective  []Edit
}

var conflictRules = []conflictRule{
	{code: "MutexWithWDR", changedPath: "WDR/mode", corrective: []Edit{
		{Path: "BLC/enabled", Value: "false"},
		{Path: "HLC/enabled", Value: "false"},
	}},
	{code: "MutexWithWDR", corrective: []Edit{{Path: "WDR/mode", Value: "close"}}},
	{code: "WDRNotDisable", corrective: []Edit{{Path: "WDR/mode", Value: "close"}}},
	{code: "HLCNotDisable", corrective: []Edit{{Path: "HLC/enabled", Value: "false"}}},
	{code: "BLCNotDisable", corrective: []Edit{{Path: "BLC/enabled", Value: "false"}}},
}

// resolutionFor returns the corrective edits for a rejection code, or nil
// when the code is unknown. First matching rule wins.
func resolutionFor(code, changedPath string) []Edit {
	for _, r := range conflictRules {
		if r.code != code {
			continue
		}
		if r.changedPath != "" && r.changedPath != changedPath {
			continue
		}
		return r.corrective
	}
	return nil
}

// SettingWriter is the slice of the client the conflict resolver drives.
type SettingWriter interface {
	PutSetting(ctx context.Context, path, value string) (PutResult, error)
	PutSettings(ctx context.Context, edits []Edit) (PutResult, error)
	PutSettingWithEnable(ctx context.Context, enabledPath, modePath, modeValue string) (PutResult, error)
}

// PutWithResolution writes one value, clearing known blockers and retrying
// on a recognized conflict code. Transport errors abort immediately and
// are never looked up in the rule table.
func PutWithResolution(ctx context.Context, w SettingWriter, path, value string) (PutResult, error) {
	result, err := w.PutSetting(ctx, path, value)
	if err != nil || result.Success {
		return result, err
	}
	return resolveAndRetry(ctx, w, path, result, func(ctx context.Context) (PutResult, error) {
		return w.PutSetting(ctx, path, value)
	})
}

// EnableWithResolution runs the compound enable (enabled=true plus the mode
// value) with the same conflict handling, keyed on the mode path.
func EnableWithResolution(ctx context.Context, w SettingWriter, enabledPath, modePath, modeValue string) (PutResult, error) {
	result, err := w.PutSettingWithEnable(ctx, enabledPath, modePath, modeValue)
	if err != nil || result.Success {
		return result, err
	}
	return resolveAndRetry(ctx, w, modePath, result, func(ctx context.Context) (PutResult, error) {
		return w.PutSettingWithEnable(ctx, enabledPath, modePath, modeValue)
	})
}

func resolveAndRetry(ctx context.Context, w SettingWriter, changedPath string, failed PutResult, retry func(context.Context) (PutResult, error)) (PutResult, error) {
	result := failed
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		corrective := resolutionFor(result.SubStatus, changedPath)
		if corrective == nil {
			slog.Warn("camera rejection has no known resolution",
				"path", changedPath, "subStatus", result.SubStatus)
			return result, nil
		}

		slog.Info("resolving setting conflict",
			"subStatus", result.SubStatus, "path", changedPath, "corrective", corrective)
		metricConflictRetries.Inc()

		pre, err := w.PutSettings(ctx, corrective)
		if err != nil {
			return PutResult{}, err
		}
		if !pre.Success {
			slog.Warn("corrective write rejected",
				"corrective", corrective, "subStatus", pre.SubStatus)
			return pre, nil
		}

		result, err = retry(ctx)
		if err != nil {
			return PutResult{}, err
		}
		if result.Success {
			return result, nil
		}
	}
	return result, nil
}
