package metrics

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// Sampler periodically refreshes the process-level gauges. It runs as one
// long-lived background task, the same shape as every other supervised
// loop in this gateway (assembler, audit writer): start at boot, stop on
// shutdown, never block the request path.
type Sampler struct {
	reg      *Registry
	interval time.Duration
	proc     *process.Process
}

// NewSampler builds a sampler for the current process.
func NewSampler(reg *Registry, interval time.Duration) (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{reg: reg, interval: interval, proc: proc}, nil
}

// Run blocks, sampling on a ticker until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sampleOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sampler) sampleOnce() {
	if cpuPct, err := s.proc.CPUPercent(); err == nil {
		s.reg.ProcessCPUPercent.Set(cpuPct)
	} else {
		log.Debug().Err(err).Msg("sampler: cpu percent unavailable")
	}

	if memInfo, err := s.proc.MemoryInfo(); err == nil && memInfo != nil {
		s.reg.ProcessRSSBytes.Set(float64(memInfo.RSS))
	} else if err != nil {
		log.Debug().Err(err).Msg("sampler: memory info unavailable")
	}
}
