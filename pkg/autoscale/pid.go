package autoscale

import (
	"math"
	"time"
)

// PIDController implements PID control on a single measured value. The
// output is positive when the value is above target.
type PIDController struct {
	Kp, Ki, Kd float64
	// OutputLimit bounds the output and the integral term when positive
	OutputLimit float64

	target        float64
	integral      float64
	previousError float64
	previousTime  time.Time
	now           func() time.Time
}

// NewPIDController creates a new PID controller
func NewPIDController(kp, ki, kd, target float64) *PIDController {
	return &PIDController{
		Kp:     kp,
		Ki:     ki,
		Kd:     kd,
		target: target,
		now:    time.Now,
	}
}

// Update calculates the PID output for the current value. The first call only
// records the starting error and returns 0.
func (pid *PIDController) Update(currentValue float64) float64 {
	now := pid.now()
	err := currentValue - pid.target

	if pid.previousTime.IsZero() {
		pid.previousTime = now
		pid.previousError = err
		return 0
	}

	dt := now.Sub(pid.previousTime).Seconds()
	output := pid.Kp * err
	if dt > 0 {
		pid.integral = pid.clampIntegral(pid.integral + err*dt)
		output += pid.Ki*pid.integral + pid.Kd*(err-pid.previousError)/dt
	}

	pid.previousError = err
	pid.previousTime = now

	if pid.OutputLimit > 0 {
		output = math.Max(-pid.OutputLimit, math.Min(output, pid.OutputLimit))
	}
	return output
}

// clampIntegral keeps Ki*integral within OutputLimit
func (pid *PIDController) clampIntegral(integral float64) float64 {
	if pid.OutputLimit <= 0 || pid.Ki == 0 {
		return integral
	}
	bound := math.Abs(pid.OutputLimit / pid.Ki)
	return math.Max(-bound, math.Min(integral, bound))
}

// Reset clears the accumulated state
func (pid *PIDController) Reset() {
	pid.integral = 0
	pid.previousError = 0
	pid.previousTime = time.Time{}
}
