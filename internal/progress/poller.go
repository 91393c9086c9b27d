package progress

// Poller is one reader's view of a job. Snapshots may come from different replicas of the
// record; the poller never shows its reader less progress than it has already shown.
type Poller struct {
	tracker *Tracker
	jobID   string
	last    View
	seen    bool
}

func (t *Tracker) NewPoller(jobID string) *Poller {
	return &Poller{tracker: t, jobID: jobID}
}

func (p *Poller) Poll() (View, error) {
	v, err := p.tracker.Snapshot(p.jobID)
	if err != nil {
		if p.seen {
			return p.last, nil
		}
		return View{}, err
	}

	if p.seen && !v.Status.Terminal() {
		if v.Percent < p.last.Percent {
			v.Percent = p.last.Percent
		}
		if v.CurrentStageIndex < p.last.CurrentStageIndex {
			v.CurrentStageIndex = p.last.CurrentStageIndex
			v.CurrentStageName = p.last.CurrentStageName
		}
		if p.last.Status.Terminal() {
			return p.last, nil
		}
	}
	p.last, p.seen = v, true
	return v, nil
}
