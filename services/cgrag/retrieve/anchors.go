// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieve

import (
	"regexp"
	"strings"
)

// Error anchors are the concrete tokens a diagnostic question carries:
// exception-type names, quoted error text, and stack-frame-like
// path:line references.
var (
	errorTypeRe = regexp.MustCompile(`\b[A-Za-z_]\w*(?:Error|Exception)\b`)

	quotedTextRe = regexp.MustCompile("\"([^\"]{3,160})\"|'([^']{3,160})'|`([^`]{3,160})`")

	// e.g. "app/handlers.py:42:handle_request" or "main.go:17"
	stackFrameRe = regexp.MustCompile(`\b([\w./-]+\.[A-Za-z]{1,4}):(\d+)(?::([A-Za-z_]\w*))?`)

	// bare "name()" call mentions
	callMentionRe = regexp.MustCompile(`\b([A-Za-z_]\w*)\(\)`)
)

// Frame is a stack-trace-like file:line[:function] reference.
type Frame struct {
	Path     string
	Line     int
	Function string
}

// Anchors are the concrete leads extracted from a question.
type Anchors struct {
	ErrorTypes []string
	Quoted     []string
	Frames     []Frame
	Calls      []string
}

// Empty reports whether no anchor of any kind was found.
func (a Anchors) Empty() bool {
	return len(a.ErrorTypes) == 0 && len(a.Quoted) == 0 && len(a.Frames) == 0 && len(a.Calls) == 0
}

// ExtractAnchors pulls error anchors out of a question, deduplicated in
// first-seen order.
func ExtractAnchors(question string) Anchors {
	var a Anchors

	seen := make(map[string]bool)
	for _, m := range errorTypeRe.FindAllString(question, -1) {
		if !seen[m] {
			seen[m] = true
			a.ErrorTypes = append(a.ErrorTypes, m)
		}
	}

	for _, groups := range quotedTextRe.FindAllStringSubmatch(question, -1) {
		text := groups[1]
		if text == "" {
			text = groups[2]
		}
		if text == "" {
			text = groups[3]
		}
		text = strings.TrimSpace(text)
		if text != "" && !seen[text] {
			seen[text] = true
			a.Quoted = append(a.Quoted, text)
		}
	}

	for _, groups := range stackFrameRe.FindAllStringSubmatch(question, -1) {
		line := 0
		for _, ch := range groups[2] {
			line = line*10 + int(ch-'0')
		}
		key := groups[1] + ":" + groups[2]
		if !seen[key] {
			seen[key] = true
			a.Frames = append(a.Frames, Frame{Path: groups[1], Line: line, Function: groups[3]})
		}
	}

	for _, groups := range callMentionRe.FindAllStringSubmatch(question, -1) {
		name := groups[1]
		if !seen[name+"()"] {
			seen[name+"()"] = true
			a.Calls = append(a.Calls, name)
		}
	}

	return a
}

// Filler words stripped when reducing a question to its subject phrase.
var subjectStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"to": true, "from": true, "for": true, "and": true, "or": true,
	"how": true, "what": true, "where": true, "when": true, "why": true,
	"does": true, "do": true, "is": true, "are": true, "can": true,
	"trace": true, "follow": true, "walk": true, "through": true,
	"show": true, "me": true, "explain": true, "describe": true,
	"flow": true, "sequence": true, "path": true, "request": true,
	"please": true, "happens": true, "goes": true, "starting": true,
	"start": true, "with": true, "at": true, "this": true, "that": true,
}

// ExtractSubject reduces a question to the content words likely to name
// the code being asked about. Identifier-looking tokens (snake_case,
// CamelCase, dotted) rank ahead of plain words.
func ExtractSubject(question string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '?', '!', ',', ';':
			return ' '
		}
		return r
	}, question)

	var identifiers, words []string
	for _, tok := range strings.Fields(cleaned) {
		tok = strings.Trim(tok, `"'.`+"`()")
		if tok == "" || subjectStopwords[strings.ToLower(tok)] {
			continue
		}
		if looksLikeIdentifier(tok) {
			identifiers = append(identifiers, tok)
		} else {
			words = append(words, tok)
		}
	}
	return append(identifiers, words...)
}

func looksLikeIdentifier(tok string) bool {
	if strings.ContainsAny(tok, "_.") {
		return true
	}
	// Mixed case past the first rune: camelCase or PascalCase
	hasInnerUpper, hasLower := false, false
	for i, r := range tok {
		if r >= 'A' && r <= 'Z' && i > 0 {
			hasInnerUpper = true
		}
		if r >= 'a' && r <= 'z' {
			hasLower = true
		}
	}
	return hasInnerUpper && hasLower
}
