package llm

// Estimate approximates the token cost of arbitrary text as one token per
// four characters, with a minimum of one. It has no language awareness and
// deliberately overcounts short non-Latin text; the gateway only uses it for
// conservative pre-flight budget checks and as a fallback when the service
// does not report exact usage.
func Estimate(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// EstimateMessages sums the estimated cost of each message's content.
func EstimateMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += Estimate(m.Content)
	}
	return total
}
