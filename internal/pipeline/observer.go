package pipeline

import (
	"github.com/rs/zerolog"

	"github.com/mwiater/voxeval/internal/taskgraph"
)

// logObserver reports node progress through zerolog.
type logObserver struct {
	log zerolog.Logger
}

func newLogObserver(l zerolog.Logger) *logObserver {
	return &logObserver{log: l.With().Str("component", "pipeline").Logger()}
}

func (o *logObserver) RunPlanned(plan *taskgraph.Plan) {
	fresh, stale := plan.Counts()
	o.log.Info().Int("fresh", fresh).Int("stale", stale).Msg("plan computed")
	for _, n := range plan.Nodes {
		if n.Status == taskgraph.StatusStale {
			o.log.Debug().Str("node", n.ID).Str("reason", n.Reason).Msg("stale")
		}
	}
}

func (o *logObserver) NodeStarted(id string, kind taskgraph.Kind) {
	o.log.Debug().Str("node", id).Str("kind", string(kind)).Msg("started")
}

func (o *logObserver) NodeFinished(r taskgraph.NodeResult) {
	ev := o.log.Info()
	if r.Status == taskgraph.StatusFailed {
		ev = o.log.Warn().Err(r.Err)
	}
	ev.Str("node", r.ID).Str("status", r.Status.String()).Dur("duration", r.Duration).Msg("finished")
}
