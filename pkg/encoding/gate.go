// Copyright 2025 The Finagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package encoding implements the mojibake gate in front of the router.
//
// Vietnamese text that went through a latin1/cp1252 round trip leaves
// characteristic artifacts ("Ã", "á»", "â€", ...). The gate scores the
// prompt, repairs it when a re-decode clearly improves the score, and
// fails fast when the text is beyond repair.
package encoding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// Decision is the gate outcome.
type Decision string

const (
	DecisionPass     Decision = "pass"
	DecisionRepaired Decision = "repaired"
	DecisionFailFast Decision = "fail_fast"
)

// Repair strategy names, recorded in the report.
const (
	StrategyLatin1 = "latin1_to_utf8"
	StrategyCP1252 = "cp1252_to_utf8"
)

// Reason codes for the encoding report.
const (
	ReasonClean             = "clean"
	ReasonRepaired          = "repaired"
	ReasonSuspectUnrepaired = "suspect_unrepaired"
	ReasonFailFast          = "mojibake_failfast"
)

// Score weights, tuned on Vietnamese prompts.
const (
	weightReplacement = 0.65
	weightPattern     = 2.5
	weightControl     = 1.8
)

// mojibakePatterns are byte-sequence artifacts of UTF-8 text decoded as a
// single-byte charset.
var mojibakePatterns = []string{"Ã", "Â", "á»", "â€", "Æ"}

// Config holds the gate thresholds.
type Config struct {
	RepairScoreMin   float64 // below this the prompt is treated as clean
	FailFastScoreMin float64 // at or above this the request is rejected
	RepairMinDelta   float64 // a repair must improve the score by this much
	// NormalizationForm is the Unicode form applied to every prompt.
	// Only NFC and NFKC are meaningful for this system; anything else
	// falls back to NFC.
	NormalizationForm string
}

// Report is the gate output for one prompt.
type Report struct {
	Normalized  string
	Decision    Decision
	Score       float64
	RepairDelta float64
	Strategy    string
	ReasonCode  string
	Fingerprint string
}

// Gate scores and repairs prompts. It is stateless and safe for concurrent
// use.
type Gate struct {
	cfg Config
}

func New(cfg Config) *Gate {
	if cfg.RepairScoreMin <= 0 {
		cfg.RepairScoreMin = 0.12
	}
	if cfg.FailFastScoreMin <= 0 {
		cfg.FailFastScoreMin = 0.45
	}
	if cfg.RepairMinDelta <= 0 {
		cfg.RepairMinDelta = 0.10
	}
	return &Gate{cfg: cfg}
}

// Check runs the gate on a raw prompt.
func (g *Gate) Check(prompt string) Report {
	report := Report{
		Fingerprint: fingerprint(prompt),
	}

	score := Score(prompt)
	report.Score = score

	if score < g.cfg.RepairScoreMin {
		report.Normalized = g.normalize(prompt)
		report.Decision = DecisionPass
		report.ReasonCode = ReasonClean
		return report
	}

	repaired, strategy, delta := g.repair(prompt, score)
	if repaired != "" {
		report.Normalized = g.normalize(repaired)
		report.Decision = DecisionRepaired
		report.Strategy = strategy
		report.RepairDelta = delta
		report.ReasonCode = ReasonRepaired
		if post := Score(repaired); post >= g.cfg.FailFastScoreMin {
			report.Decision = DecisionFailFast
			report.ReasonCode = ReasonFailFast
		}
		return report
	}

	if score >= g.cfg.FailFastScoreMin {
		report.Normalized = g.normalize(prompt)
		report.Decision = DecisionFailFast
		report.ReasonCode = ReasonFailFast
		return report
	}

	// Suspicious but unrepaired prompts still flow to the router; the
	// extractor copes with mild artifacts better than a canned retry does.
	report.Normalized = g.normalize(prompt)
	report.Decision = DecisionPass
	report.ReasonCode = ReasonSuspectUnrepaired
	return report
}

// Score computes the mojibake likelihood of s, clamped to [0,1].
func Score(s string) float64 {
	if s == "" {
		return 0
	}

	total := utf8.RuneCountInString(s)
	if total == 0 {
		return 0
	}

	var replacements, controls int
	for _, r := range s {
		if r == utf8.RuneError {
			replacements++
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			controls++
		}
	}

	var patterns int
	for _, p := range mojibakePatterns {
		patterns += strings.Count(s, p)
	}

	n := float64(total)
	score := weightReplacement*(float64(replacements)/n) +
		weightPattern*(float64(patterns)/n) +
		weightControl*(float64(controls)/n)

	if score > 1 {
		return 1
	}
	return score
}

// repair tries the candidate re-decodings and returns the best one whose
// score improves by at least RepairMinDelta, with its strategy and delta.
func (g *Gate) repair(s string, score float64) (string, string, float64) {
	var (
		best         string
		bestStrategy string
		bestDelta    float64
	)

	for _, c := range []struct {
		strategy string
		decode   func(string) (string, bool)
	}{
		{StrategyLatin1, redecodeLatin1},
		{StrategyCP1252, redecodeCP1252},
	} {
		candidate, ok := c.decode(s)
		if !ok || candidate == s {
			continue
		}
		delta := score - Score(candidate)
		if delta >= g.cfg.RepairMinDelta && delta > bestDelta {
			best = candidate
			bestStrategy = c.strategy
			bestDelta = delta
		}
	}

	return best, bestStrategy, bestDelta
}

// redecodeLatin1 re-encodes the runes as latin-1 bytes and reinterprets
// them as UTF-8, reversing a latin1-decoded double encoding.
func redecodeLatin1(s string) (string, bool) {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return "", false
		}
		buf = append(buf, byte(r))
	}
	if !utf8.Valid(buf) {
		return "", false
	}
	return string(buf), true
}

// redecodeCP1252 is the Windows-1252 variant of redecodeLatin1.
func redecodeCP1252(s string) (string, bool) {
	encoded, err := charmap.Windows1252.NewEncoder().String(s)
	if err != nil {
		return "", false
	}
	if !utf8.Valid([]byte(encoded)) {
		return "", false
	}
	return encoded, true
}

func (g *Gate) normalize(s string) string {
	if strings.EqualFold(g.cfg.NormalizationForm, "NFKC") {
		return norm.NFKC.String(s)
	}
	return norm.NFC.String(s)
}

// fingerprint is the stable short hash logged for a prompt, avoiding raw
// prompt text in audit records.
func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
