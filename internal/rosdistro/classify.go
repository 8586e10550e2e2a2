package rosdistro

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// ErrManifestParse marks a changed file whose yaml would not parse on one
// side of the diff. The commit still gets a change row (noun "error")
// instead of voiding its whole change set.
var ErrManifestParse = errors.New("manifest yaml parse failure")

var (
	rosdepPattern     = regexp.MustCompile(`^rosdep/(.*)\.yaml$`)
	distroMiscPattern = regexp.MustCompile(`^(.*)/(.*)-build\.yaml$`)
	legacyPattern     = regexp.MustCompile(`^(.*)/(doc|source)\.yaml$`)
	legacyRelPattern  = regexp.MustCompile(`^releases/([^-]*)-(.*)\.yaml$`)
)

// miscRoots are top-level paths whose changes never carry distro
// semantics. Any change under them is a plain misc update.
var miscRoots = map[string]struct{}{
	"readme.rst":      {},
	"CONTRIBUTING.md": {},
	"README.md":       {},
	"README":          {},
	"scripts":         {},
	"doc":             {},
	"test":            {},
	".gitignore":      {},
	".github":         {},
	"ros.asc":         {},
	"ros.key":         {},
	".travis.yml":     {},
	".yamllint":       {},
	"index.yaml":      {},
	"index-v4.yaml":   {},
}

// rosdepCollapsedTypes are rosdep files whose whole change collapses to a
// single dep record named after the package manager.
var rosdepCollapsedTypes = map[string]struct{}{
	"python":       {},
	"ruby":         {},
	"osx-homebrew": {},
	"gentoo":       {},
}

// legacyMainPaths are the hard-coded early-era release manifests that
// predate the per-distro directory layout.
var legacyMainPaths = map[string]struct{}{
	"releases/fuerte.yaml": {},
	"releases/groovy.yaml": {},
	"releases/hydro.yaml":  {},
}

// Classifier turns one changed manifest file into semantic change triples.
type Classifier struct {
	distros *DistroIndex
}

// NewClassifier returns a classifier over the given distribution index.
func NewClassifier(distros *DistroIndex) *Classifier {
	return &Classifier{distros: distros}
}

// ClassifyFile classifies a single changed file. A yaml parse failure on
// either side returns an error wrapping ErrManifestParse; every other
// outcome is a FileClassification, with Unknown set when some leaf of the
// diff matched no rule.
func (c *Classifier) ClassifyFile(change FileChange) (FileClassification, error) {
	root := change.Path
	if idx := strings.IndexByte(root, '/'); idx >= 0 {
		root = root[:idx]
	}

	if _, ok := miscRoots[root]; ok || strings.HasSuffix(change.Path, ".py") {
		return FileClassification{Triples: []Triple{{VerbUpdate, NounMisc, ""}}}, nil
	}

	if m := rosdepPattern.FindStringSubmatch(change.Path); m != nil {
		return c.classifyRosdep(change, m[1])
	}

	if m := distroMiscPattern.FindStringSubmatch(change.Path); m != nil && c.distros.Known(m[1]) {
		return FileClassification{Triples: []Triple{{VerbUpdate, m[2], m[1]}}}, nil
	}

	m := legacyPattern.FindStringSubmatch(change.Path)
	if m == nil {
		m = legacyRelPattern.FindStringSubmatch(change.Path)
	}

	if m != nil && c.distros.Known(m[1]) {
		return c.classifyLegacy(change, m[1], m[2])
	}

	name := path.Base(change.Path)
	_, legacyMain := legacyMainPaths[change.Path]

	if name == "release.yaml" || name == "distribution.yaml" || legacyMain {
		return c.classifyMainManifest(change)
	}

	if change.Path == "fuerte.yaml" {
		return FileClassification{Triples: []Triple{{VerbUpdate, NounRelease, "fuerte"}}}, nil
	}

	return FileClassification{Unknown: true}, nil
}

// diffFile parses both sides of a file change and returns the structural
// deltas between them.
func diffFile(change FileChange) ([]delta, error) {
	before, err := parseManifest(change.Before)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (before): %v", ErrManifestParse, change.Path, err)
	}

	after, err := parseManifest(change.After)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (after): %v", ErrManifestParse, change.Path, err)
	}

	return diffDocuments(before, after), nil
}

// classifyRosdep handles rosdep/<type>.yaml. The base type records one
// dep change per affected key; collapsed package-manager types record a
// single dep change named after the type; anything else is unknown.
func (c *Classifier) classifyRosdep(change FileChange, rosdepType string) (FileClassification, error) {
	deltas, err := diffFile(change)
	if err != nil {
		return FileClassification{}, err
	}

	var result FileClassification

	for _, d := range deltas {
		verb := deltaVerb(d)

		switch {
		case rosdepType == "base":
			switch {
			case len(d.Path) == 1:
				side := d.Right
				if d.Right == nil {
					side = d.Left
				}

				keys, ok := asStringMap(side)
				if !ok {
					result.Unknown = true

					continue
				}

				for _, key := range unionKeys(keys, nil) {
					result.Triples = append(result.Triples, Triple{verb, NounDep, key})
				}
			case len(d.Path) >= 2:
				result.Triples = append(result.Triples, Triple{verb, NounDep, d.Path[1]})
			}
		default:
			if _, ok := rosdepCollapsedTypes[rosdepType]; ok {
				result.Triples = append(result.Triples, Triple{verb, NounDep, rosdepType})
			} else {
				result.Unknown = true
			}
		}
	}

	// A purely cosmetic edit (key reordering, whitespace) still counts
	// as one dep update so the commit is not falsely marked empty.
	if len(result.Triples) == 0 && !result.Unknown {
		result.Triples = append(result.Triples, Triple{VerbUpdate, NounDep, rosdepType})
	}

	return result, nil
}

// classifyLegacy handles per-distro doc/source files and the
// releases/<distro>-<type>.yaml layout.
func (c *Classifier) classifyLegacy(change FileChange, distro, legacyType string) (FileClassification, error) {
	switch legacyType {
	case "devel":
		legacyType = NounRelease
	case "dry-doc":
		legacyType = NounDoc
	case "dependencies", "ci-jobs":
		return FileClassification{Triples: []Triple{{VerbUpdate, NounMisc, distro}}}, nil
	}

	deltas, err := diffFile(change)
	if err != nil {
		return FileClassification{}, err
	}

	var result FileClassification

	for _, d := range deltas {
		verb := deltaVerb(d)

		if len(d.Path) != 0 && !wildMatch(d.Path, []string{"repositories", "*"}, true) {
			verb = VerbUpdate
		}

		result.Triples = append(result.Triples, Triple{verb, legacyType, distro})
	}

	if len(result.Triples) == 0 {
		result.Triples = append(result.Triples, Triple{VerbUpdate, legacyType, distro})
	}

	return result, nil
}

// manifestRule matches one path shape in the main-manifest rule table and
// emits the corresponding triple. Returning false passes to the next rule.
type manifestRule func(d delta, verb, folder string) (Triple, bool)

// manifestRules is the ordered rule table for the main release and
// distribution manifests. Order is priority: the first matching rule wins
// for each delta.
var manifestRules = []manifestRule{
	func(d delta, verb, folder string) (Triple, bool) {
		repoEntry := wildMatch(d.Path, []string{"repositories", "*"}, true)
		repoListAdd := len(d.Path) == 1 && d.Path[0] == "repositories" && verb == VerbAdd

		if repoEntry || repoListAdd {
			return Triple{verb, NounPackage, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		// A whole-document add is a new distribution channel. This must
		// precede the prefix rules, which match the empty path.
		if len(d.Path) == 0 && verb == VerbAdd {
			return Triple{verb, NounRosdistro, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "release", "version"}, true) ||
			wildMatch(d.Path, []string{"repositories", "*", "version"}, true) {
			return Triple{VerbBump, compareVersionValues(d.Left, d.Right), folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if verb == VerbUpdate && wildMatch(d.Path, []string{"repositories", "*", "release", "packages"}, true) {
			return Triple{verb, NounReleasePkgs, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "source", "version"}, true) {
			return Triple{VerbUpdate, NounSrc, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "doc", "*"}, true) {
			return Triple{VerbUpdate, NounDoc, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "release"}, true) {
			return Triple{verb, NounRelease, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "release"}, false) {
			return Triple{VerbUpdate, NounRelease, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "source"}, true) ||
			wildMatch(d.Path, []string{"repositories", "*", "source", "*"}, true) {
			return Triple{verb, NounSource, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "*"}, true) && strings.Contains(d.Path[2], "status") {
			return Triple{verb, NounStatus, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "doc"}, true) {
			return Triple{verb, NounDoc, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"release_platforms", "*"}, true) {
			return Triple{arrayVerb(d.Left, d.Right), NounReleasePlatform, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "packages", "*"}, true) {
			return Triple{VerbUpdate, NounReleasePkgs, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if len(d.Path) == 1 && d.Path[0] == "gbp-repos" {
			return Triple{VerbUpdate, NounRelease, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "*"}, true) && (d.Path[2] == "url" || d.Path[2] == "uri") {
			return Triple{verb, NounRelease, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "packages"}, true) {
			return Triple{verb, NounReleasePkgs, folder}, true
		}

		return Triple{}, false
	},
	func(d delta, verb, folder string) (Triple, bool) {
		if wildMatch(d.Path, []string{"repositories", "*", "tags"}, false) {
			return Triple{verb, NounRelease, folder}, true
		}

		return Triple{}, false
	},
}

// classifyMainManifest handles per-distro release.yaml/distribution.yaml
// and the three hard-coded legacy release manifests. The distro channel
// name comes from the parent directory, or the file stem for the legacy
// releases/ layout.
func (c *Classifier) classifyMainManifest(change FileChange) (FileClassification, error) {
	var folder string

	if strings.HasPrefix(change.Path, "releases/") {
		folder = strings.TrimSuffix(path.Base(change.Path), ".yaml")
	} else {
		folder = path.Base(path.Dir(change.Path))
	}

	deltas, err := diffFile(change)
	if err != nil {
		return FileClassification{}, err
	}

	var result FileClassification

	for _, d := range deltas {
		verb := deltaVerb(d)

		matched := false

		for _, rule := range manifestRules {
			triple, ok := rule(d, verb, folder)
			if ok {
				result.Triples = append(result.Triples, triple)
				matched = true

				break
			}
		}

		if !matched {
			result.Unknown = true
		}
	}

	if len(result.Triples) == 0 && !result.Unknown {
		result.Triples = append(result.Triples, Triple{VerbUpdate, NounRelease, folder})
	}

	return result, nil
}
