package summary

// defaultCharsPerToken is the approximation used when the config leaves the
// ratio unset. Four characters per token is a workable average for chat text.
const defaultCharsPerToken = 4

// EstimateTokens converts text volume into an approximate token count using
// a fixed characters-per-token ratio. It is used for chunk sizing only and
// intentionally rounds up so budgets err on the small side.
func EstimateTokens(s string, charsPerToken int) int {
	if s == "" {
		return 0
	}
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}
