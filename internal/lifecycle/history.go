package lifecycle

import "github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"

// apportion splits a completion report across the job's members, in Configs
// order. Exact per-configuration counts win. Whatever the report total leaves
// over is shared among the remaining members in proportion to their expected
// size, or equally when nothing was expected.
func apportion(job *domain.Job, report domain.CompletionReport) []domain.Size {
	n := len(job.Configs)
	out := make([]domain.Size, n)
	if n == 0 {
		return out
	}

	estimates := job.MemberEstimates()
	restBytes, restObjects := report.Bytes, report.Objects
	var open []int
	for i, key := range job.Configs {
		if exact, ok := report.PerConfig[key]; ok {
			out[i] = exact
			restBytes -= exact.Bytes
			restObjects -= exact.Objects
			continue
		}
		open = append(open, i)
	}
	if len(open) == 0 {
		return out
	}

	byteWeights := make([]int64, len(open))
	objectWeights := make([]int64, len(open))
	for j, i := range open {
		if i < len(estimates) {
			byteWeights[j] = estimates[i].Bytes
			objectWeights[j] = estimates[i].Objects
		}
	}

	bytes := split(max(restBytes, 0), byteWeights)
	objects := split(max(restObjects, 0), objectWeights)
	for j, i := range open {
		out[i] = domain.Size{Bytes: bytes[j], Objects: objects[j]}
	}
	return out
}

// split divides total by weights so the parts sum to total exactly. The
// rounding remainder goes to the heaviest part.
func split(total int64, weights []int64) []int64 {
	parts := make([]int64, len(weights))

	var sum float64
	heaviest := 0
	for i, w := range weights {
		if w < 0 {
			weights[i] = 0
			w = 0
		}
		sum += float64(w)
		if w > weights[heaviest] {
			heaviest = i
		}
	}

	var assigned int64
	for i, w := range weights {
		if sum == 0 {
			parts[i] = total / int64(len(weights))
		} else {
			parts[i] = int64(float64(total) * (float64(w) / sum))
		}
		assigned += parts[i]
	}
	parts[heaviest] = max(parts[heaviest]+total-assigned, 0)
	return parts
}
