package status

import "github.com/hamed0406/uptimed/internal/domain"

// Apply folds one outcome into st and reports whether the verdict changed.
// It is pure; the Store serializes calls per target.
//
// A success bumps the success streak and clears the failure streak, and
// flips DOWN or UNKNOWN to UP once the streak reaches the success threshold.
// Failures mirror that toward DOWN. The streak that caused a flip is reset,
// and nothing ever returns a target to UNKNOWN.
func Apply(st domain.State, t domain.Target, out domain.Outcome) (domain.State, bool) {
	st.LastChecked = out.At
	st.LastStatusCode = out.StatusCode

	if out.Success {
		st.ConsecutiveSuccesses++
		st.ConsecutiveFailures = 0
		st.LastLatency = out.Latency
		st.LastError = ""
		st.LastClass = domain.ClassNone
		if st.Verdict != domain.VerdictUp && st.ConsecutiveSuccesses >= t.SuccessThreshold {
			st.Verdict = domain.VerdictUp
			st.LastTransition = out.At
			st.ConsecutiveSuccesses = 0
			return st, true
		}
		return st, false
	}

	st.ConsecutiveFailures++
	st.ConsecutiveSuccesses = 0
	st.LastError = out.Error
	st.LastClass = out.Class
	if st.Verdict != domain.VerdictDown && st.ConsecutiveFailures >= t.FailureThreshold {
		st.Verdict = domain.VerdictDown
		st.LastTransition = out.At
		st.ConsecutiveFailures = 0
		return st, true
	}
	return st, false
}
