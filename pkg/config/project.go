package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/devsync/pkg/errors"
)

const (
	// ProjectConfigName is the name of the optional project config file,
	// relative to the sync root.
	ProjectConfigName = ".devsync.yaml"

	// InitialProjectConfigVersion is the first version of the project
	// config. Config files that do not specify a version will default to this
	// version.
	InitialProjectConfigVersion = "v1alpha1"

	// SupportedProjectConfigVersion is the supported version of the project
	// config of the current devsync binary.
	SupportedProjectConfigVersion = "v1alpha1"
)

// Project contains the per-sync-root settings. Every field is optional in
// the config file.
type Project struct {
	Version string `json:"version,omitempty"`

	// ComposeBinary is the compose CLI used to control the stack.
	ComposeBinary string `json:"composeBinary,omitempty"`

	// ComposeFiles is the pair of declarative files describing the stack.
	ComposeFiles []string `json:"composeFiles,omitempty"`

	// SyncBinary is the file synchronization engine.
	SyncBinary string `json:"syncBinary,omitempty"`

	// SyncHost is the host used to reach published container ports.
	SyncHost string `json:"syncHost,omitempty"`

	// SyncService is a regular expression matched against compose service
	// names and container names to find the sync container.
	SyncService string `json:"syncService,omitempty"`

	// SyncPort is the port the sync engine listens on inside the container.
	SyncPort int `json:"syncPort,omitempty"`

	// Ignore is passed to the sync engine in both the initial and the watch
	// pass.
	Ignore []string `json:"ignore,omitempty"`

	// InitialIgnore is added to Ignore during the initial sync only.
	InitialIgnore []string `json:"initialIgnore,omitempty"`

	Notifications *bool `json:"notifications,omitempty"`
}

// DefaultProject returns the settings used when no config file exists.
func DefaultProject() Project {
	return Project{
		Version:       InitialProjectConfigVersion,
		ComposeBinary: "docker-compose",
		ComposeFiles:  []string{"docker-compose.yml", "docker-compose.dev.yml"},
		SyncBinary:    "unison",
		SyncHost:      "localhost",
		SyncService:   "-sync$",
		SyncPort:      5000,
		Ignore:        []string{"Name .git", "Name .devsync.*", "Name .DS_Store"},
		InitialIgnore: []string{
			"Name .unison.initialized",
			"Name .idea",
			"Name .vscode",
			"Name docker-compose*.yml",
		},
	}
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// ParseProject parses the project config in `root`. If there's no config
// file, the defaults are returned.
func ParseProject(root string) (Project, error) {
	path := filepath.Join(root, ProjectConfigName)
	config := DefaultProject()
	err := readProject(path, &config)
	if err != nil {
		if _, ok := err.(errors.FileNotFound); !ok {
			return Project{}, errors.WithContext(err, "parse")
		}
		config = DefaultProject()
	}

	if _, err := regexp.Compile(config.SyncService); err != nil {
		return Project{}, errors.NewFriendlyError("The syncService pattern %q "+
			"in %q is not a valid regular expression:\n%s",
			config.SyncService, path, err)
	}

	if config.SyncPort <= 0 || config.SyncPort > 65535 {
		return Project{}, errors.NewFriendlyError(
			"The syncPort in %q must be between 1 and 65535.", path)
	}

	for i, file := range config.ComposeFiles {
		expanded, err := homedirExpand(file)
		if err != nil {
			return Project{}, errors.WithContext(err, "expand compose file path")
		}

		// Evaluate relative paths relative to the sync root.
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Join(root, expanded)
		}
		config.ComposeFiles[i] = expanded
	}
	return config, nil
}

// NotificationsEnabled returns whether desktop notifications should be sent.
func (p Project) NotificationsEnabled() bool {
	return p.Notifications == nil || *p.Notifications
}

// WatchIgnores returns the ignore rules for the background watcher.
func (p Project) WatchIgnores() []string {
	return append([]string{}, p.Ignore...)
}

// InitialIgnores returns the ignore rules for the initial sync. They're a
// superset of the watch rules.
func (p Project) InitialIgnores() []string {
	return append(p.WatchIgnores(), p.InitialIgnore...)
}

// projectParseErrTemplate is shown when the project config isn't valid YAML,
// or has fields of the wrong type or unknown fields. The YAML library's
// errors don't say which field is at fault, so the settings are listed.
const projectParseErrTemplate = "%q isn't a valid devsync project config.\n" +
	"The supported settings are version, composeBinary, composeFiles, " +
	"syncBinary, syncHost, syncService, syncPort, ignore, initialIgnore, " +
	"and notifications.\n\n" +
	"The parser reported:\n%s"

type versionMismatchError struct {
	path, actual string
}

func (err versionMismatchError) Error() string {
	return err.FriendlyMessage()
}

func (err versionMismatchError) FriendlyMessage() string {
	return fmt.Sprintf("%q is a version %q project config, but this devsync "+
		"only reads version %q.\n"+
		"Set `version: %s` or remove the version to use it.",
		err.path, err.actual, SupportedProjectConfigVersion,
		SupportedProjectConfigVersion)
}

// readProject overlays the settings in `path` onto `config`.
func readProject(path string, config *Project) error {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read file")
	}

	// Check the version with a lenient parse first, so that a config written
	// for another release reports its version instead of its unknown fields.
	var versioned struct {
		Version string `json:"version,omitempty"`
	}
	if err := yaml.Unmarshal(raw, &versioned); err != nil {
		return errors.NewFriendlyError(projectParseErrTemplate, path, err)
	}
	if versioned.Version != "" && versioned.Version != SupportedProjectConfigVersion {
		return versionMismatchError{path, versioned.Version}
	}

	if err := yaml.UnmarshalStrict(raw, config, yaml.DisallowUnknownFields); err != nil {
		return errors.NewFriendlyError(projectParseErrTemplate, path, err)
	}
	return nil
}
