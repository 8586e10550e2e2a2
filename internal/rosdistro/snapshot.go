package rosdistro

import (
	"path"
	"strings"
)

// RepoDescriptor is the slice of a manifest repository entry the
// checkpoints care about.
type RepoDescriptor struct {
	URL     string
	Version string
}

// DistroSnapshot maps distro → repository name → section (release,
// source, doc) → descriptor, reconstructed from one commit's tree.
type DistroSnapshot map[string]map[string]map[string]RepoDescriptor

// Names returns the repository names present for a distro.
func (s DistroSnapshot) Names(distro string) []string {
	names := make([]string, 0, len(s[distro]))
	for name := range s[distro] {
		names = append(names, name)
	}

	return names
}

// snapshotBuilder accumulates manifest entries into a DistroSnapshot,
// creating the nested levels on demand.
type snapshotBuilder struct {
	snapshot DistroSnapshot
}

func newSnapshotBuilder() *snapshotBuilder {
	return &snapshotBuilder{snapshot: make(DistroSnapshot)}
}

func (b *snapshotBuilder) add(distro, name, section string, desc RepoDescriptor) {
	repos, ok := b.snapshot[distro]
	if !ok {
		repos = make(map[string]map[string]RepoDescriptor)
		b.snapshot[distro] = repos
	}

	sections, ok := repos[name]
	if !ok {
		sections = make(map[string]RepoDescriptor)
		repos[name] = sections
	}

	sections[section] = desc
}

// manifestSections maps per-distro manifest filenames to the section
// their flat entries belong to. distribution.yaml entries carry their own
// per-section sub-maps instead.
var manifestSections = map[string]string{
	"release.yaml": "release",
	"doc.yaml":     "doc",
	"source.yaml":  "source",
}

// ReconstructSnapshot rebuilds the full repository universe at one
// commit: modern per-distro manifests, the legacy releases/ directory and
// the legacy per-distro doc rosinstall folders. Files that fail to parse
// are skipped; a checkpoint tolerates holes rather than aborting.
func ReconstructSnapshot(tree TreeReader, distros *DistroIndex) (DistroSnapshot, error) {
	builder := newSnapshotBuilder()

	entries, err := tree.List("")
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		switch {
		case entry.IsDir && distros.Known(entry.Name):
			collectDistroDir(tree, builder, entry.Name)
		case entry.IsDir && entry.Name == "releases":
			collectLegacyReleases(tree, builder, distros)
		case entry.IsDir && entry.Name == "doc":
			collectLegacyDoc(tree, builder, distros)
		}
	}

	return builder.snapshot, nil
}

// collectDistroDir reads the per-distro manifest files under <distro>/.
func collectDistroDir(tree TreeReader, builder *snapshotBuilder, distro string) {
	for _, filename := range []string{"distribution.yaml", "release.yaml", "doc.yaml", "source.yaml"} {
		raw, err := tree.Read(distro + "/" + filename)
		if err != nil {
			continue
		}

		doc, err := parseManifest(raw)
		if err != nil {
			continue
		}

		root, ok := asStringMap(doc)
		if !ok {
			continue
		}

		repos, ok := asStringMap(root["repositories"])
		if !ok {
			continue
		}

		if filename == "distribution.yaml" {
			for name, entry := range repos {
				addDistributionEntry(builder, distro, name, entry)
			}

			continue
		}

		section := manifestSections[filename]

		for name, entry := range repos {
			builder.add(distro, name, section, descriptorFrom(entry))
		}
	}
}

// addDistributionEntry splits a distribution.yaml repository entry into
// its release/source/doc sub-sections.
func addDistributionEntry(builder *snapshotBuilder, distro, name string, entry any) {
	fields, ok := asStringMap(entry)
	if !ok {
		builder.add(distro, name, "release", RepoDescriptor{})

		return
	}

	found := false

	for _, section := range []string{"release", "source", "doc"} {
		sub, ok := fields[section]
		if !ok {
			continue
		}

		builder.add(distro, name, section, descriptorFrom(sub))
		found = true
	}

	if !found {
		builder.add(distro, name, "release", descriptorFrom(entry))
	}
}

// collectLegacyReleases reads the flat releases/<distro>[-<suffix>].yaml
// layout, covering both the repositories and gbp-repos formats.
func collectLegacyReleases(tree TreeReader, builder *snapshotBuilder, distros *DistroIndex) {
	entries, err := tree.List("releases")
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, ".yaml") {
			continue
		}

		stem := strings.TrimSuffix(entry.Name, ".yaml")
		stem = strings.ReplaceAll(stem, "-devel", "")

		if !distros.Known(stem) {
			continue
		}

		raw, err := tree.Read("releases/" + entry.Name)
		if err != nil {
			continue
		}

		doc, err := parseManifest(raw)
		if err != nil {
			continue
		}

		root, ok := asStringMap(doc)
		if !ok {
			continue
		}

		if repos, ok := asStringMap(root["repositories"]); ok {
			for name, repoEntry := range repos {
				builder.add(stem, name, "release", descriptorFrom(repoEntry))
			}

			continue
		}

		gbp, ok := root["gbp-repos"].([]any)
		if !ok {
			continue
		}

		for _, item := range gbp {
			fields, ok := asStringMap(item)
			if !ok {
				continue
			}

			name, _ := fields["name"].(string)
			if name == "" {
				continue
			}

			url, _ := fields["url"].(string)
			builder.add(stem, name, "release", RepoDescriptor{URL: url})
		}
	}
}

// collectLegacyDoc reads doc/<distro>/*.rosinstall files; each file names
// one documented repository.
func collectLegacyDoc(tree TreeReader, builder *snapshotBuilder, distros *DistroIndex) {
	entries, err := tree.List("doc")
	if err != nil {
		return
	}

	for _, distroEntry := range entries {
		if !distroEntry.IsDir || !distros.Known(distroEntry.Name) {
			continue
		}

		distro := distroEntry.Name

		files, err := tree.List("doc/" + distro)
		if err != nil {
			continue
		}

		for _, file := range files {
			if file.IsDir || path.Ext(file.Name) != ".rosinstall" {
				continue
			}

			name := strings.TrimSuffix(file.Name, ".rosinstall")
			desc := RepoDescriptor{}

			raw, err := tree.Read("doc/" + distro + "/" + file.Name)
			if err == nil {
				desc = rosinstallDescriptor(raw)
			}

			builder.add(distro, name, "doc", desc)
		}
	}
}

// rosinstallDescriptor pulls the first uri/version pair out of a
// rosinstall document, a list of single-key {vcs-type: {uri, version}}
// entries. A file that does not parse yields an empty descriptor.
func rosinstallDescriptor(raw []byte) RepoDescriptor {
	doc, err := parseManifest(raw)
	if err != nil {
		return RepoDescriptor{}
	}

	items, ok := doc.([]any)
	if !ok {
		return RepoDescriptor{}
	}

	for _, item := range items {
		entry, ok := asStringMap(item)
		if !ok {
			continue
		}

		for _, body := range entry {
			fields, ok := asStringMap(body)
			if !ok {
				continue
			}

			uri, _ := fields["uri"].(string)
			version, _ := fields["version"].(string)

			if uri != "" || version != "" {
				return RepoDescriptor{URL: uri, Version: version}
			}
		}
	}

	return RepoDescriptor{}
}

// descriptorFrom extracts url/uri and version from a manifest entry map.
func descriptorFrom(entry any) RepoDescriptor {
	fields, ok := asStringMap(entry)
	if !ok {
		return RepoDescriptor{}
	}

	url, _ := fields["url"].(string)
	if url == "" {
		url, _ = fields["uri"].(string)
	}

	version, _ := fields["version"].(string)

	return RepoDescriptor{URL: url, Version: version}
}
