// Package appinfo holds the build information of imgvault and renders it.
package appinfo

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Set at link time, for example:
//
//	go build -ldflags '-X github.com/wuxler/imgvault/pkg/appinfo.version=v1.0.0'
var (
	version      = "dev"
	buildDate    = "1970-01-01T00:00:00Z"
	gitBranch    = ""
	gitCommit    = ""
	gitTag       = ""
	gitTreeState = ""
)

// Version is the build information of the binary plus what it can serve.
type Version struct {
	Version      string        `json:"version" yaml:"version"`
	Git          GitInfo       `json:"git" yaml:"git"`
	Build        BuildInfo     `json:"build" yaml:"build"`
	Capabilities *Capabilities `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// GitInfo records the git state at build time.
type GitInfo struct {
	Branch    string `json:"branch" yaml:"branch"`
	Commit    string `json:"commit" yaml:"commit"`
	Tag       string `json:"tag" yaml:"tag"`
	TreeState string `json:"tree_state" yaml:"tree_state"`
}

// BuildInfo records the toolchain and target of the build.
type BuildInfo struct {
	BuildDate string `json:"build_date,omitempty" yaml:"build_date,omitempty"`
	GoVersion string `json:"go_version,omitempty" yaml:"go_version,omitempty"`
	Compiler  string `json:"compiler,omitempty" yaml:"compiler,omitempty"`
	Platform  string `json:"platform,omitempty" yaml:"platform,omitempty"`
}

// Capabilities lists the image formats and backend types compiled in.
type Capabilities struct {
	Formats  []string `json:"formats" yaml:"formats"`
	Backends []string `json:"backends" yaml:"backends"`
}

// GetVersion returns the Version of the running binary.
func GetVersion() Version {
	return Version{
		Version: version,
		Git: GitInfo{
			Branch:    gitBranch,
			Commit:    gitCommit,
			Tag:       gitTag,
			TreeState: gitTreeState,
		},
		Build: BuildInfo{
			BuildDate: buildDate,
			GoVersion: runtime.Version(),
			Compiler:  runtime.Compiler,
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		},
	}
}

// ShortVersion returns the version with the abbreviated commit appended.
func ShortVersion() string {
	if len(gitCommit) > 7 {
		return version + "-" + gitCommit[0:8]
	}
	return version
}

// NewVersionWriter returns a *VersionWriter rendering v.
func NewVersionWriter(v Version) *VersionWriter {
	return &VersionWriter{version: v}
}

// VersionWriter renders a Version as text, json or yaml.
type VersionWriter struct {
	version Version

	short   bool
	format  string
	appName string
}

// SetShort only prints the version line in text format.
func (vw *VersionWriter) SetShort(short bool) *VersionWriter {
	vw.short = short
	return vw
}

// SetFormat selects "text", "json" or "yaml".
func (vw *VersionWriter) SetFormat(format string) *VersionWriter {
	vw.format = format
	return vw
}

// SetAppName sets the name printed ahead of the version.
func (vw *VersionWriter) SetAppName(name string) *VersionWriter {
	vw.appName = name
	return vw
}

// SetCapabilities attaches the supported formats and backends.
func (vw *VersionWriter) SetCapabilities(formats, backends []string) *VersionWriter {
	vw.version.Capabilities = &Capabilities{Formats: formats, Backends: backends}
	return vw
}

// Version returns the rendered Version.
func (vw VersionWriter) Version() Version {
	return vw.version
}

// Write renders the version into w.
func (vw VersionWriter) Write(w io.Writer) error {
	switch strings.ToLower(vw.format) {
	case "yaml", "yml":
		return yaml.NewEncoder(w).Encode(vw.version)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(vw.version)
	case "", "text":
	default:
		return fmt.Errorf("unsupported version format %q", vw.format)
	}
	if vw.short {
		_, err := fmt.Fprintln(w, vw.Line())
		return err
	}
	_, err := io.WriteString(w, vw.Extended())
	return err
}

// Line returns "[name ]version[ (commit)]".
func (vw VersionWriter) Line() string {
	s := vw.version.Version
	if vw.version.Git.Commit != "" {
		s += " (" + vw.version.Git.Commit + ")"
	}
	if vw.appName != "" {
		s = vw.appName + " " + s
	}
	return s
}

// Extended returns the multi-line report.
func (vw VersionWriter) Extended() string {
	v := vw.version
	b := &strings.Builder{}
	if vw.appName != "" {
		fmt.Fprintf(b, "Application  : %s\n", vw.appName)
	}
	fmt.Fprintf(b, `Version      : %s
[Git]
  Branch     : %s
  Commit     : %s
  Tag        : %s
  TreeState  : %s
[Build]
  BuildDate  : %s
  GoVersion  : %s
  Compiler   : %s
  Platform   : %s
`,
		v.Version, v.Git.Branch, v.Git.Commit, v.Git.Tag, v.Git.TreeState,
		v.Build.BuildDate, v.Build.GoVersion, v.Build.Compiler, v.Build.Platform)
	if c := v.Capabilities; c != nil {
		fmt.Fprintf(b, "[Capabilities]\n  Formats    : %s\n  Backends   : %s\n",
			strings.Join(c.Formats, ", "), strings.Join(c.Backends, ", "))
	}
	return b.String()
}
