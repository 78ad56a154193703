package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fatih/color"
)

// Build metadata. Overridden at build time via -ldflags "-X ...".
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildDate = ""
)

// Info is the build metadata as reported by `vmhttp version --format json`.
type Info struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
}

func Current() Info {
	v := strings.TrimSpace(Version)
	if v == "" {
		v = "dev"
	}
	return Info{
		Tool:      "vmhttp",
		Version:   v,
		GitCommit: strings.TrimSpace(GitCommit),
		BuildDate: strings.TrimSpace(BuildDate),
		GoVersion: runtime.Version(),
	}
}

// Banner renders the one-line version banner. Each semver component gets its
// own color when colored is true; otherwise the output is plain text.
func Banner(colored bool) string {
	info := Current()

	major := color.New(color.FgYellow, color.Bold)
	minor := color.New(color.FgGreen, color.Bold)
	patch := color.New(color.FgBlue, color.Bold)
	for _, c := range []*color.Color{major, minor, patch} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	core, suffix := info.Version, ""
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core, suffix = core[:i], core[i:]
	}
	parts := strings.SplitN(core, ".", 3)
	painted := make([]string, len(parts))
	for i, p := range parts {
		switch i {
		case 0:
			painted[i] = major.Sprint(p)
		case 1:
			painted[i] = minor.Sprint(p)
		default:
			painted[i] = patch.Sprint(p)
		}
	}

	line := fmt.Sprintf("%s %s%s (%s)", info.Tool, strings.Join(painted, "."), suffix, info.GoVersion)
	if info.GitCommit != "" {
		line += " commit " + info.GitCommit
	}
	if info.BuildDate != "" {
		line += " built " + info.BuildDate
	}
	return line
}
