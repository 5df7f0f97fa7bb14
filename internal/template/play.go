package template

import (
	"time"

	"github.com/stagehand-live/stagehand/internal/action"
)

// templatePriority is the tween priority of template-driven animation. It
// outranks idle motion (1) and lip-sync (2).
const templatePriority = 3

// ActionAdder buffers actions for later execution. *action.Scheduler
// satisfies it.
type ActionAdder interface {
	Add(a action.Action) time.Duration
}

// Play expands the named template and queues its animation actions on
// sched. It returns the estimated completion time of the expanded batch.
func (p *Player) Play(name string, params map[string]any, delay time.Duration, sched ActionAdder) (time.Duration, error) {
	resolved, completion, err := p.Resolve(name, params, delay)
	if err != nil {
		return 0, err
	}
	for _, ra := range resolved {
		sched.Add(action.Animation{
			Parameter: ra.Parameter,
			From:      ra.From,
			Target:    ra.Target,
			Duration:  ra.Duration,
			Delay:     ra.Delay,
			Easing:    ra.Easing,
			Priority:  templatePriority,
		})
	}
	return completion, nil
}
