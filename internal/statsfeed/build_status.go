package statsfeed

import (
	"os"
	"time"

	"github.com/tugtool/tugcast/internal/codec"
)

// buildFreshnessWindow is how recently the target directory must have been
// modified to be reported "building" rather than "idle".
const buildFreshnessWindow = 10 * time.Second

// BuildStatusCollector derives build freshness from a target directory's
// mtime, grounded on original_source's build_status.rs.
type BuildStatusCollector struct {
	targetDir string
}

// NewBuildStatusCollector builds a collector watching targetDir.
func NewBuildStatusCollector(targetDir string) *BuildStatusCollector {
	return &BuildStatusCollector{targetDir: targetDir}
}

func (c *BuildStatusCollector) Name() string            { return "build_status" }
func (c *BuildStatusCollector) FeedID() codec.FeedID     { return codec.StatsBuildStatus }
func (c *BuildStatusCollector) Interval() time.Duration  { return 10 * time.Second }

type buildStatus struct {
	Name                  string  `json:"name"`
	LastBuildTime         *string `json:"last_build_time"`
	TargetModifiedSecsAgo *int64  `json:"target_modified_secs_ago"`
	Status                string  `json:"status"`
}

func (c *BuildStatusCollector) Collect() any {
	info, err := os.Stat(c.targetDir)
	if err != nil {
		return buildStatus{Name: "build_status", Status: "idle"}
	}

	modified := info.ModTime()
	agoSecs := int64(time.Since(modified).Seconds())
	status := "idle"
	if time.Since(modified) <= buildFreshnessWindow {
		status = "building"
	}
	lastBuildTime := modified.UTC().Format(time.RFC3339)

	return buildStatus{
		Name:                  "build_status",
		LastBuildTime:         &lastBuildTime,
		TargetModifiedSecsAgo: &agoSecs,
		Status:                status,
	}
}
