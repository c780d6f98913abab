package llm

import "strings"

const maxExtractInput = 12000

// BuildSearchPrompt is the web-search question asked for a site.
func BuildSearchPrompt(site string) string {
	return "find all working coupon codes on " + strings.TrimSpace(site)
}

// BuildExtractSystemPrompt tells the model to return only codes in the schema shape.
func BuildExtractSystemPrompt() string {
	parts := []string{
		"Extract all coupon codes from the text. Only return the coupon codes, nothing else.",
		`Return ONLY JSON of the form {"coupons":[{"code":"..."}]}.`,
		"A code is the exact string a shopper types at checkout; keep its case and punctuation.",
		"Do not invent codes. Skip offers that need no code (automatic discounts, free shipping banners).",
		`If there are no codes, return {"coupons":[]}.`,
	}
	return strings.Join(parts, " ")
}

// BuildExtractUserPrompt wraps the search answer, truncated to keep the request small.
func BuildExtractUserPrompt(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.WriteString("Extract all coupon codes from this text:\n\n")
	if len(text) > maxExtractInput {
		b.WriteString(text[:maxExtractInput])
		b.WriteString("\n…(truncated)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}
