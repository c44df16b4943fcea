package validation

import (
	"fmt"
	"math"
	"strings"
)

// Entropy thresholds in bits per character. Random base62 material sits
// around 5.4; anything under weakEntropyThreshold is suspicious for key
// bodies of typical length.
const weakEntropyThreshold = 3.0

// knownTestFragments are substrings that mark throwaway or documentation
// keys.
var knownTestFragments = []string{"test", "demo", "example", "sample", "dummy", "xxxx", "1234567890"}

// EntropyReport summarizes the randomness analysis of a key.
type EntropyReport struct {
	BitsPerChar float64  `json:"bitsPerChar"`
	Weak        bool     `json:"weak"`
	Findings    []string `json:"findings,omitempty"`
}

// shannonEntropy computes bits of entropy per character over the rune
// distribution of s.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}
	entropy := 0.0
	for _, count := range freq {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// analyzeEntropy runs the full weak-key analysis: character-distribution
// entropy, repeated and sequential substrings, and known test patterns.
func analyzeEntropy(key string) EntropyReport {
	report := EntropyReport{BitsPerChar: shannonEntropy(key)}

	if report.BitsPerChar < weakEntropyThreshold {
		report.Weak = true
		report.Findings = append(report.Findings,
			fmt.Sprintf("low entropy (%.2f bits/char)", report.BitsPerChar))
	}

	if run := longestRun(key); run >= 6 {
		report.Weak = true
		report.Findings = append(report.Findings,
			fmt.Sprintf("repeated character run of length %d", run))
	}

	if block := repeatingBlock(key); block != "" {
		report.Weak = true
		report.Findings = append(report.Findings,
			fmt.Sprintf("repeating substring %q", block))
	}

	if seq := longestSequentialRun(key); seq >= 6 {
		report.Weak = true
		report.Findings = append(report.Findings,
			fmt.Sprintf("sequential character run of length %d", seq))
	}

	lower := strings.ToLower(key)
	for _, fragment := range knownTestFragments {
		if strings.Contains(lower, fragment) {
			report.Weak = true
			report.Findings = append(report.Findings,
				fmt.Sprintf("contains known test pattern %q", fragment))
			break
		}
	}

	return report
}

// longestRun returns the length of the longest run of one repeated rune.
func longestRun(s string) int {
	longest, current := 0, 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			current++
		} else {
			current = 1
			prev = r
		}
		if current > longest {
			longest = current
		}
	}
	return longest
}

// repeatingBlock looks for a short substring repeated back to back at
// least three times, e.g. "abcabcabc". Returns the block or "".
func repeatingBlock(s string) string {
	for size := 2; size <= 8 && size*3 <= len(s); size++ {
		for i := 0; i+size*3 <= len(s); i++ {
			block := s[i : i+size]
			if s[i+size:i+2*size] == block && s[i+2*size:i+3*size] == block {
				return block
			}
		}
	}
	return ""
}

// longestSequentialRun returns the length of the longest ascending or
// descending run of consecutive byte values ("abcdef", "987654").
func longestSequentialRun(s string) int {
	if len(s) < 2 {
		return len(s)
	}
	longest, asc, desc := 1, 1, 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 {
			asc++
		} else {
			asc = 1
		}
		if s[i] == s[i-1]-1 {
			desc++
		} else {
			desc = 1
		}
		if asc > longest {
			longest = asc
		}
		if desc > longest {
			longest = desc
		}
	}
	return longest
}
