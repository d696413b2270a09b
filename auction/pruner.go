package auction

import (
	"time"

	"github.com/golang/glog"
)

// ArchivePruner is a task.Runner that bounds archive growth in long-lived
// single-page-app sessions.
type ArchivePruner struct {
	Orchestrator *Orchestrator
	TTL          time.Duration
}

func (p *ArchivePruner) Run() error {
	if pruned := p.Orchestrator.PruneArchive(p.TTL); pruned > 0 {
		glog.Infof("pruned %d archived auction entries older than %v", pruned, p.TTL)
	}
	return nil
}
