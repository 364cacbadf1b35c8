// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loop

import (
	"regexp"
	"strings"
)

// The model is asked for two labeled sections. Free-text parsing is a
// fragile boundary, so the fallback is documented and total: absent
// markers mean the whole response is the answer and no gaps were
// stated.
const (
	answerMarker  = "ANSWER:"
	missingMarker = "MISSING:"
	noneLiteral   = "NONE"
)

var gapBulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// ParsedPass is one generation's answer and stated gaps.
type ParsedPass struct {
	Answer string
	Gaps   []string
}

// ParsePass splits a generation into its ANSWER and MISSING sections.
//
// MISSING of literal NONE (any case) yields no gaps. Bulleted gap lines
// are stripped of their markers. When neither marker is present the
// whole text is treated as the answer with no gaps.
func ParsePass(raw string) ParsedPass {
	text := strings.TrimSpace(raw)

	answerIdx := indexMarker(text, answerMarker)
	missingIdx := indexMarker(text, missingMarker)

	if answerIdx < 0 && missingIdx < 0 {
		return ParsedPass{Answer: text}
	}

	var answer, missing string
	switch {
	case answerIdx >= 0 && missingIdx >= 0 && answerIdx < missingIdx:
		answer = text[answerIdx+len(answerMarker) : missingIdx]
		missing = text[missingIdx+len(missingMarker):]
	case answerIdx >= 0 && missingIdx >= 0:
		// MISSING before ANSWER; tolerate the swap.
		missing = text[missingIdx+len(missingMarker) : answerIdx]
		answer = text[answerIdx+len(answerMarker):]
	case answerIdx >= 0:
		answer = text[answerIdx+len(answerMarker):]
	default:
		answer = text[:missingIdx]
		missing = text[missingIdx+len(missingMarker):]
	}

	return ParsedPass{
		Answer: strings.TrimSpace(answer),
		Gaps:   parseGaps(missing),
	}
}

// indexMarker finds a marker at a line start, so prose mentioning
// "ANSWER:" mid-sentence doesn't split the response.
func indexMarker(text, marker string) int {
	if strings.HasPrefix(text, marker) {
		return 0
	}
	idx := strings.Index(text, "\n"+marker)
	if idx < 0 {
		return -1
	}
	return idx + 1
}

func parseGaps(section string) []string {
	section = strings.TrimSpace(section)
	if section == "" || strings.EqualFold(section, noneLiteral) {
		return nil
	}

	var gaps []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(gapBulletRe.ReplaceAllString(line, ""))
		if line == "" || strings.EqualFold(line, noneLiteral) {
			continue
		}
		if !seen[line] {
			seen[line] = true
			gaps = append(gaps, line)
		}
	}
	return gaps
}
