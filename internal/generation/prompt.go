package generation

import (
	"fmt"
	"strings"
)

const schemaDescription = `{
  "summary": "short answer to the user's request",
  "comparisons": [
    {
      "name": "product name",
      "price": 0.0,
      "rating": 0.0,
      "category": "category",
      "brand": "brand",
      "key_features": ["feature"]
    }
  ]
}`

const systemPrompt = `You are a helpful e-commerce shopping assistant. Recommend and compare products using only the product context provided. Never invent products, prices or ratings.

Respond with a JSON object in this format:
` + schemaDescription

const strictSystemPrompt = `You are an e-commerce assistant that outputs machine-readable JSON.

Your previous answer could not be parsed. Return ONLY one JSON object, with no prose, no markdown and no code fences. It must match this schema exactly:
` + schemaDescription + `

Rules:
- "summary" is a non-empty string.
- "comparisons" is an array, possibly empty.
- "price" and "rating" are plain numbers without currency symbols.
- "rating" is between 0 and 5.
- "key_features" is an array of non-empty strings.
- Use only products that appear in the context.`

// BuildUserPrompt combines the assembled product context with the query.
func BuildUserPrompt(query, productContext string) string {
	var b strings.Builder
	b.WriteString("Product context:\n")
	if strings.TrimSpace(productContext) == "" {
		b.WriteString("(no matching products)\n")
	} else {
		b.WriteString(productContext)
		if !strings.HasSuffix(productContext, "\n") {
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "\nUser request: %s\n", query)
	return b.String()
}
