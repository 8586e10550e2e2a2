package rosdistro

import "regexp"

var (
	fullVersionPattern  = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)-(\d+)`)
	shortVersionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)
)

// versionComponents names the version fields in significance order; the
// index of the first differing component names the bump granularity.
var versionComponents = []string{"major", "minor", "patch", "build"}

// CompareVersions names the most significant component that differs
// between two version strings: "major", "minor", "patch" or "build".
// It returns "" when the versions are equal or either side does not
// parse as a version. The build component only participates when both
// sides carry one.
func CompareVersions(before, after string) string {
	beforeParts := fullVersionPattern.FindStringSubmatch(before)
	afterParts := fullVersionPattern.FindStringSubmatch(after)

	if beforeParts == nil || afterParts == nil {
		beforeParts = shortVersionPattern.FindStringSubmatch(before)
		afterParts = shortVersionPattern.FindStringSubmatch(after)

		if beforeParts == nil || afterParts == nil {
			return ""
		}
	}

	for i := 1; i < len(beforeParts); i++ {
		if beforeParts[i] != afterParts[i] {
			return versionComponents[i-1]
		}
	}

	return ""
}

// compareVersionValues applies CompareVersions to raw yaml values,
// tolerating non-string versions, and falls back to "other" for any
// change that has no nameable granularity.
func compareVersionValues(before, after any) string {
	beforeStr, beforeOK := before.(string)
	afterStr, afterOK := after.(string)

	if !beforeOK || !afterOK {
		return "other"
	}

	granularity := CompareVersions(beforeStr, afterStr)
	if granularity == "" {
		return "other"
	}

	return granularity
}
