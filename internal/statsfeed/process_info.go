package statsfeed

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/tugtool/tugcast/internal/codec"
	"github.com/tugtool/tugcast/internal/logging"
)

// ProcessInfoCollector reports CPU, memory, and uptime for the current
// process, grounded on original_source's process_info.rs (there backed by
// the sysinfo crate; here by gopsutil, the ecosystem's process-metrics
// library).
type ProcessInfoCollector struct {
	proc      *process.Process
	startedAt time.Time
}

// NewProcessInfoCollector builds a collector for the current process.
func NewProcessInfoCollector() *ProcessInfoCollector {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logging.Warn("failed to open process handle for stats collector", "err", err)
	}
	return &ProcessInfoCollector{proc: proc, startedAt: time.Now()}
}

func (c *ProcessInfoCollector) Name() string             { return "process_info" }
func (c *ProcessInfoCollector) FeedID() codec.FeedID      { return codec.StatsProcessInfo }
func (c *ProcessInfoCollector) Interval() time.Duration  { return 5 * time.Second }

type processInfo struct {
	Name       string  `json:"name"`
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMiB  float64 `json:"memory_mb"`
	UptimeSecs int64   `json:"uptime_secs"`
}

func (c *ProcessInfoCollector) Collect() any {
	if c.proc == nil {
		return nil
	}
	cpuPercent, err := c.proc.CPUPercent()
	if err != nil {
		logging.Warn("process_info: cpu percent failed", "err", err)
		return nil
	}
	memInfo, err := c.proc.MemoryInfo()
	if err != nil {
		logging.Warn("process_info: memory info failed", "err", err)
		return nil
	}
	return processInfo{
		Name:       "process_info",
		PID:        c.proc.Pid,
		CPUPercent: cpuPercent,
		MemoryMiB:  float64(memInfo.RSS) / 1_048_576.0,
		UptimeSecs: int64(time.Since(c.startedAt).Seconds()),
	}
}
