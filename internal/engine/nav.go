package engine

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// windowSize is the number of page buttons shown around the current question.
const windowSize = 5

// Clamp maps i into [0, n-1], or 0 when n is 0.
func Clamp(i, n int) int {
	if n <= 0 || i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

// VisibleWindow returns up to five consecutive indices centered on current,
// shifted to stay inside [0, n-1] near either edge.
func VisibleWindow(current, n int) []int {
	if n <= 0 {
		return []int{}
	}
	half := windowSize / 2
	start, end := current-half, current+half
	if start < 0 {
		end += -start
		start = 0
	}
	if end > n-1 {
		over := end - (n - 1)
		start = max(0, start-over)
		end = n - 1
	}

	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out
}

// AllIndices returns 0..n-1, the cells of a question map.
func AllIndices(n int) []int {
	out := make([]int, max(n, 0))
	for i := range out {
		out[i] = i
	}
	return out
}

// ParseJump turns 1-based "go to question #k" input into a 0-based index
// clamped into range. Like parseInt it reads an optional sign and the leading
// digits after any whitespace and ignores the rest, so "3rd" is 3 and "1e2"
// is 1. ok is false when there are no leading digits.
func ParseJump(input string, n int) (idx int, ok bool) {
	s := strings.TrimLeftFunc(input, unicode.IsSpace)
	sign := ""
	if s != "" && (s[0] == '+' || s[0] == '-') {
		sign, s = s[:1], s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}

	k, err := strconv.Atoi(sign + s[:end])
	if err != nil {
		// Out of int range; clamping only needs the sign.
		k = math.MaxInt
		if sign == "-" {
			k = math.MinInt
		}
	}
	return Clamp(max(k, 1)-1, n), true
}

// ProgressPct is the position of current within n questions, in whole percent.
func ProgressPct(current, n int) int {
	return int(math.Round(float64(current+1) / float64(max(n, 1)) * 100))
}
