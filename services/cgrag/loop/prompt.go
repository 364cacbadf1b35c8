// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loop

import (
	"fmt"
	"strings"

	"github.com/codelore/codelore/services/cgrag/datatypes"
)

const answerSystemPrompt = `You are a code-aware assistant. Answer the user's question using ONLY the
evidence provided. Cite evidence by its [n] label where relevant.

Your response MUST have exactly two sections:

ANSWER:
<your answer, grounded in the evidence>

MISSING:
<one line per piece of evidence you still need to answer fully, phrased as
"<symbol> in <file>" or "<symbol>()" where possible, or the literal word NONE
if the evidence suffices>`

// buildPrompt formats the evidence bundle and question into one pass's
// user prompt. Items are numbered so the model can cite them.
func buildPrompt(question string, bundle *datatypes.EvidenceBundle) string {
	var b strings.Builder
	b.WriteString("EVIDENCE:\n\n")
	if len(bundle.Items) == 0 {
		b.WriteString("(no evidence retrieved)\n\n")
	}
	for i, item := range bundle.Items {
		fmt.Fprintf(&b, "[%d] %s", i+1, item.Source)
		if item.Path != "" {
			fmt.Fprintf(&b, " %s", item.Path)
		}
		if lr := item.LineRange(); lr != "" {
			fmt.Fprintf(&b, ":%s", lr)
		}
		if item.Title != "" {
			fmt.Fprintf(&b, " (%s)", item.Title)
		}
		b.WriteString("\n")
		b.WriteString(item.Text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "QUESTION: %s\n", question)
	return b.String()
}
