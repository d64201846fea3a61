package scheduler

import (
	"sync"

	"github.com/ByteMirror/convoy/config"
	"github.com/ByteMirror/convoy/metrics"
	"github.com/ByteMirror/convoy/work"
)

// Policy is the closed-loop rule that turns recent success rates into a concurrency level.
type Policy struct {
	InitialLevel       int
	Ceiling            int
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	// Window is the number of most recent batches the average covers.
	Window int
	// Alpha is the EMA smoothing factor. Zero means 2/(Window+1).
	Alpha float64
}

// PolicyFromConfig reads the scaling settings.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		InitialLevel:       cfg.InitialConcurrency,
		Ceiling:            cfg.ConcurrencyCeiling,
		ScaleUpThreshold:   cfg.ScaleUpThreshold,
		ScaleDownThreshold: cfg.ScaleDownThreshold,
		Window:             cfg.ScalingWindow,
		Alpha:              cfg.EMAAlpha,
	}
}

func (p Policy) alpha() float64 {
	if p.Alpha > 0 {
		return p.Alpha
	}
	window := p.Window
	if window < 1 {
		window = 1
	}
	return 2 / float64(window+1)
}

func (p Policy) ceiling() int {
	if p.Ceiling < 1 {
		return 1
	}
	return p.Ceiling
}

// Clamp bounds level to [1, Ceiling].
func (p Policy) Clamp(level int) int {
	if level < 1 {
		return 1
	}
	if c := p.ceiling(); level > c {
		return c
	}
	return level
}

// EMA averages rates ordered oldest to newest. Only the last Window rates count. The average
// is seeded with the oldest rate.
func (p Policy) EMA(rates []float64) (float64, bool) {
	if p.Window > 0 && len(rates) > p.Window {
		rates = rates[len(rates)-p.Window:]
	}
	if len(rates) == 0 {
		return 0, false
	}

	alpha := p.alpha()
	ema := rates[0]
	for _, r := range rates[1:] {
		ema = alpha*r + (1-alpha)*ema
	}
	return ema, true
}

// Decide returns the level that follows level given the rates. Without data the level only
// gets clamped.
func (p Policy) Decide(level int, rates []float64) int {
	ema, ok := p.EMA(rates)
	switch {
	case !ok:
	case ema >= p.ScaleUpThreshold:
		level++
	case ema < p.ScaleDownThreshold:
		level--
	}
	return p.Clamp(level)
}

// ScalingState is the process-wide controller: the window of recent success rates and the
// current level. Only the run loop writes it, once per batch.
type ScalingState struct {
	mu     sync.RWMutex
	policy Policy
	level  int
	// rates holds at most Window success rates, oldest first.
	rates []float64
}

// NewScalingState starts at the policy's initial level with no history.
func NewScalingState(policy Policy) *ScalingState {
	return &ScalingState{policy: policy, level: policy.Clamp(policy.InitialLevel)}
}

// LoadScalingState rebuilds the state from persisted history, given most recent first as
// returned by Recorder.History. The level is the decision that followed the newest batch,
// re-derived under the current policy.
func LoadScalingState(policy Policy, history []metrics.Record) *ScalingState {
	state := NewScalingState(policy)
	if len(history) == 0 {
		return state
	}

	for i := len(history) - 1; i >= 0; i-- {
		if rate, ok := history[i].Rate(); ok {
			state.push(rate)
		}
	}
	last := history[0].Concurrency
	if last < 1 {
		last = policy.InitialLevel
	}
	state.level = policy.Decide(last, state.rates)
	return state
}

// Level returns the concurrency level for the next batch.
func (s *ScalingState) Level() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// Policy returns the rule the state follows.
func (s *ScalingState) Policy() Policy {
	return s.policy
}

// SuccessRate returns the current EMA. It reports false before any batch with candidates.
func (s *ScalingState) SuccessRate() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.EMA(s.rates)
}

// Samples returns how many batches the average currently covers.
func (s *ScalingState) Samples() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rates)
}

// Observe feeds a finished batch into the window and returns the new level.
func (s *ScalingState) Observe(result *work.BatchResult) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A batch without candidates carries no signal.
	rate, ok := result.SuccessRate()
	if !ok {
		return s.level
	}
	s.push(rate)
	s.level = s.policy.Decide(s.level, s.rates)
	return s.level
}

func (s *ScalingState) push(rate float64) {
	s.rates = append(s.rates, rate)
	if w := s.policy.Window; w > 0 && len(s.rates) > w {
		s.rates = append([]float64(nil), s.rates[len(s.rates)-w:]...)
	}
}
