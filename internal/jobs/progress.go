// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

// Progress is the structured progress object attached to every job. All
// fields are optional pointers so a task can send sparse deltas; the store
// merges each delta into the persisted object.
//
// The wire format is a single flat JSON object regardless of job type;
// type-specific fields simply stay empty for jobs that do not use them.
type Progress struct {
	Percent     *float64 `json:"percent,omitempty"`
	CurrentFile *string  `json:"current_file,omitempty"`
	Stage       *string  `json:"stage,omitempty"`
	Message     *string  `json:"message,omitempty"`

	// Batch counters
	Completed *int `json:"completed,omitempty"`
	Failed    *int `json:"failed,omitempty"`
	Total     *int `json:"total,omitempty"`

	// Transfer counters
	Uploaded   *int    `json:"uploaded,omitempty"`
	Downloaded *int    `json:"downloaded,omitempty"`
	Speed      *string `json:"speed,omitempty"`
	ETASeconds *int    `json:"eta_seconds,omitempty"`
}

// merge applies every set field of delta onto p. Percent is clamped so it
// never decreases while a job runs.
func (p *Progress) merge(delta Progress) {
	if delta.Percent != nil {
		if p.Percent == nil || *delta.Percent >= *p.Percent {
			p.Percent = delta.Percent
		}
	}
	if delta.CurrentFile != nil {
		p.CurrentFile = delta.CurrentFile
	}
	if delta.Stage != nil {
		p.Stage = delta.Stage
	}
	if delta.Message != nil {
		p.Message = delta.Message
	}
	if delta.Completed != nil {
		p.Completed = delta.Completed
	}
	if delta.Failed != nil {
		p.Failed = delta.Failed
	}
	if delta.Total != nil {
		p.Total = delta.Total
	}
	if delta.Uploaded != nil {
		p.Uploaded = delta.Uploaded
	}
	if delta.Downloaded != nil {
		p.Downloaded = delta.Downloaded
	}
	if delta.Speed != nil {
		p.Speed = delta.Speed
	}
	if delta.ETASeconds != nil {
		p.ETASeconds = delta.ETASeconds
	}
}

// Float64 returns a pointer to v, for building Progress deltas.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v, for building Progress deltas.
func String(v string) *string { return &v }

// Int returns a pointer to v, for building Progress deltas.
func Int(v int) *int { return &v }

// ProgressGate throttles progress emission at the source: an update passes
// only when the integer percent advanced by at least two points or the stage
// changed. The first observation always passes.
type ProgressGate struct {
	started     bool
	lastPercent int
	lastStage   string
}

// ShouldEmit reports whether an update for (percent, stage) should be sent.
// It records the observation when it returns true.
func (g *ProgressGate) ShouldEmit(percent float64, stage string) bool {
	p := int(percent)
	if !g.started {
		g.started = true
		g.lastPercent = p
		g.lastStage = stage
		return true
	}
	if stage != g.lastStage {
		g.lastPercent = p
		g.lastStage = stage
		return true
	}
	if p-g.lastPercent >= 2 {
		g.lastPercent = p
		return true
	}
	return false
}
