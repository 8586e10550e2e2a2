package rosdistro

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultRos1 and defaultRos2 are the built-in distribution rosters, used
// when no constants file overrides them. Order is release order.
var defaultRos1 = []string{
	"boxturtle", "cturtle", "diamondback", "electric", "fuerte",
	"groovy", "hydro", "indigo", "jade", "kinetic", "lunar",
	"melodic", "noetic",
}

var defaultRos2 = []string{
	"ardent", "bouncy", "crystal", "dashing", "eloquent", "foxy",
	"galactic", "humble", "iron", "jazzy", "kilted", "rolling",
}

// DistroIndex answers membership questions about distribution names. The
// first-generation set matters because the combined repo count is only
// meaningful while a first-generation distro is present.
type DistroIndex struct {
	Ros1 []string `yaml:"ros1"`
	Ros2 []string `yaml:"ros2"`

	known    map[string]struct{}
	firstGen map[string]struct{}
}

// DefaultDistros returns the built-in distribution index.
func DefaultDistros() *DistroIndex {
	index := &DistroIndex{Ros1: defaultRos1, Ros2: defaultRos2}
	index.buildSets()

	return index
}

// LoadDistros reads a distribution index from a yaml constants file with
// top-level ros1 and ros2 name lists.
func LoadDistros(path string) (*DistroIndex, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read constants file: %w", err)
	}

	index := &DistroIndex{}

	err = yaml.Unmarshal(raw, index)
	if err != nil {
		return nil, fmt.Errorf("parse constants file: %w", err)
	}

	if len(index.Ros1) == 0 && len(index.Ros2) == 0 {
		return nil, fmt.Errorf("constants file %s lists no distros", path)
	}

	index.buildSets()

	return index, nil
}

func (d *DistroIndex) buildSets() {
	d.known = make(map[string]struct{}, len(d.Ros1)+len(d.Ros2))
	d.firstGen = make(map[string]struct{}, len(d.Ros1))

	for _, name := range d.Ros1 {
		d.known[name] = struct{}{}
		d.firstGen[name] = struct{}{}
	}

	for _, name := range d.Ros2 {
		d.known[name] = struct{}{}
	}
}

// Known reports whether name is a recognized distribution.
func (d *DistroIndex) Known(name string) bool {
	_, ok := d.known[name]

	return ok
}

// FirstGeneration reports whether name is a first-generation distribution.
func (d *DistroIndex) FirstGeneration(name string) bool {
	_, ok := d.firstGen[name]

	return ok
}

// All returns every known distribution name, first generation first.
func (d *DistroIndex) All() []string {
	names := make([]string, 0, len(d.Ros1)+len(d.Ros2))
	names = append(names, d.Ros1...)
	names = append(names, d.Ros2...)

	return names
}
