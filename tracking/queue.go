package tracking

import "github.com/samber/lo"

// commandQueue holds controller calls made before a controller exists. Each option the caller
// sets keeps its position from the first time it was set and the value from the last time.
// Seeded options go first and move behind the caller's options once the caller sets them.
type commandQueue struct {
	order  []Option
	cmds   map[Option]func(Controller)
	seeded map[Option]bool
}

func newCommandQueue() *commandQueue {
	return &commandQueue{cmds: map[Option]func(Controller){}, seeded: map[Option]bool{}}
}

func (q *commandQueue) put(opt Option, cmd func(Controller)) {
	_, queued := q.cmds[opt]
	if q.seeded[opt] {
		delete(q.seeded, opt)
		q.order = lo.Without(q.order, opt)
		queued = false
	}
	if !queued {
		q.order = append(q.order, opt)
	}
	q.cmds[opt] = cmd
}

func (q *commandQueue) len() int {
	return len(q.order)
}

// replay applies every queued call to ctrl in order and empties the queue.
func (q *commandQueue) replay(ctrl Controller) {
	for _, opt := range q.order {
		q.cmds[opt](ctrl)
	}
	q.order = nil
	q.cmds = map[Option]func(Controller){}
	q.seeded = map[Option]bool{}
}

// seed queues every controller-backed setting of cfg not already queued, as a fresh controller
// needs all of them.
func (q *commandQueue) seed(cfg Config) {
	threshold := ClampThreshold(cfg.Threshold)
	for _, entry := range []struct {
		opt Option
		cmd func(Controller)
	}{
		{OptionDebugOverlay, func(c Controller) { c.SetDebugMode(cfg.DebugOverlay) }},
		{OptionProcessingMode, func(c Controller) { c.SetImageProcMode(cfg.ProcessingMode) }},
		{OptionDetectionMode, func(c Controller) { c.SetPatternDetectionMode(cfg.DetectionMode) }},
		{OptionLabelingMode, func(c Controller) { c.SetLabelingMode(cfg.LabelingMode) }},
		{OptionMatrixCodeType, func(c Controller) { c.SetMatrixCodeType(cfg.MatrixCodeType) }},
		{OptionThreshold, func(c Controller) { c.SetThreshold(threshold) }},
		{OptionThresholdMode, func(c Controller) { c.SetThresholdMode(cfg.ThresholdMode) }},
	} {
		if _, ok := q.cmds[entry.opt]; ok {
			continue
		}
		q.order = append(q.order, entry.opt)
		q.cmds[entry.opt] = entry.cmd
		q.seeded[entry.opt] = true
	}
}
