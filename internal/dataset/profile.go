package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mwiater/voxeval/internal/errs"
)

// Operation names one capability of a profile's engine.
type Operation string

const (
	OpDownload   Operation = "print-downloads"
	OpTrain      Operation = "train-profile"
	OpTranscribe Operation = "transcribe-wav"
	OpRecognize  Operation = "recognize-intent"
)

// Operations lists every operation a profile may override.
var Operations = []Operation{OpDownload, OpTrain, OpTranscribe, OpRecognize}

// DescriptorFile is the optional per-profile settings file.
const DescriptorFile = "profile.yml"

// UserFiles are copied from a profile directory into its working directory
// before training.
var UserFiles = []string{"sentences.ini", "custom_words.txt", DescriptorFile, "slots", "slot_programs", "converters"}

// Descriptor holds optional per-profile settings.
type Descriptor struct {
	Description string   `yaml:"description"`
	EngineArgs  []string `yaml:"engine_args"`
	// Strictness overrides the configured intent strictness for this profile.
	Strictness string `yaml:"strictness"`
	// Artifacts are files training leaves in the working directory, relative
	// to it, such as intent.pickle.gz. Losing one makes training stale.
	Artifacts []string `yaml:"artifacts"`
}

// Profile is one recognition configuration evaluated against a dataset.
type Profile struct {
	Name    string
	Dataset string
	Dir     string
	// Overrides maps an operation to its executable in bin/.
	Overrides  map[Operation]string
	Descriptor Descriptor
	// Err is set when the descriptor is unusable; the profile's Train node
	// fails with it.
	Err error
}

// Key identifies the profile across datasets as "<dataset>/<profile>".
func (p *Profile) Key() string { return p.Dataset + "/" + p.Name }

// Override returns the override executable for op, if the profile has one.
func (p *Profile) Override(op Operation) (string, bool) {
	path, ok := p.Overrides[op]
	return path, ok
}

// InputFiles lists the user files present in the profile directory,
// expanding directories, sorted. These feed the Train node's fingerprint.
func (p *Profile) InputFiles() ([]string, error) {
	var out []string
	for _, name := range UserFiles {
		root := filepath.Join(p.Dir, name)
		info, err := os.Stat(root)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadProfiles reads <dataset>/profiles/*. Profiles are sorted by name.
func LoadProfiles(ds *Dataset, filter Filter) ([]*Profile, error) {
	root := filepath.Join(ds.Dir, ProfilesDir)
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Config("read profiles", ds.Name, err)
	}

	var profiles []*Profile
	for _, e := range entries {
		if !e.IsDir() || !filter.allows(filter.Profiles, e.Name()) {
			continue
		}
		profiles = append(profiles, loadProfile(ds.Name, filepath.Join(root, e.Name())))
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

func loadProfile(datasetName, dir string) *Profile {
	p := &Profile{
		Name:      filepath.Base(dir),
		Dataset:   datasetName,
		Dir:       dir,
		Overrides: make(map[Operation]string),
	}
	for _, op := range Operations {
		path := filepath.Join(dir, "bin", string(op))
		if isExecutable(path) {
			p.Overrides[op] = path
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		p.Err = errs.Config("read descriptor", p.Key(), err)
	default:
		if err := yaml.Unmarshal(data, &p.Descriptor); err != nil {
			p.Err = errs.Config("parse descriptor", p.Key(), err)
			break
		}
		switch p.Descriptor.Strictness {
		case "", "tolerant", "strict":
		default:
			p.Err = errs.Config("parse descriptor", p.Key(), fmt.Errorf("unknown strictness %q", p.Descriptor.Strictness))
		}
		for _, a := range p.Descriptor.Artifacts {
			if !filepath.IsLocal(filepath.FromSlash(a)) {
				p.Err = errs.Config("parse descriptor", p.Key(), fmt.Errorf("artifact %q is not inside the working directory", a))
			}
		}
	}
	return p
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
