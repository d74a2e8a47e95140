package extract

import "strings"

// ResponseContract is appended to every system prompt so that all providers
// answer in the shape ParseSuggestions expects.
const ResponseContract = `Return your findings as a JSON object of the form {"suggestions": [...]}. Each suggestion object must have these fields:

- "page_number": the page the issue appears on, taken from the "page N:" label (integer)
- "issue": a short label for the problem, e.g. "spelling", "tone", "number format" (string)
- "original_text": the exact offending text, copied verbatim (string)
- "suggested_text": the proposed replacement (string)
- "rationale": one sentence citing the style rule that applies (string)
- "severity": one of "critical", "recommended", "optional"
- "confidence": how sure you are, from 0.0 to 1.0 (number)

Rules:
- Flag issues only; never rewrite whole passages
- One suggestion per distinct issue
- Quote original_text exactly so it can be found in the document
- Return {"suggestions": []} if the pages need no edits

Respond with ONLY the JSON object, no other text.`

// SystemMessage joins style instructions with the response contract.
func SystemMessage(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return ResponseContract
	}
	return instructions + "\n\n" + ResponseContract
}
