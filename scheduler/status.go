package scheduler

// Status is a read-only view of the scaling state.
type Status struct {
	Concurrency int `json:"concurrency"`
	// SuccessRate is nil until a batch with candidates was observed.
	SuccessRate        *float64 `json:"success_rate,omitempty"`
	Samples            int      `json:"samples"`
	Ceiling            int      `json:"ceiling"`
	ScaleUpThreshold   float64  `json:"scale_up_threshold"`
	ScaleDownThreshold float64  `json:"scale_down_threshold"`
	Window             int      `json:"window"`
	Alpha              float64  `json:"alpha"`
}

// Status reports the current level and the average it was derived from.
func (s *ScalingState) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Concurrency:        s.level,
		Samples:            len(s.rates),
		Ceiling:            s.policy.ceiling(),
		ScaleUpThreshold:   s.policy.ScaleUpThreshold,
		ScaleDownThreshold: s.policy.ScaleDownThreshold,
		Window:             s.policy.Window,
		Alpha:              s.policy.alpha(),
	}
	if ema, ok := s.policy.EMA(s.rates); ok {
		status.SuccessRate = &ema
	}
	return status
}
