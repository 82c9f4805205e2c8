// Package llm turns natural-language questions into SQL via an
// OpenAI-compatible chat completion API. The generator only drafts SQL; it
// is never trusted — everything it returns goes through the SQL validators
// before touching the database.
package llm

import (
	"context"
	"strings"
)

// SQLGenerator drafts a SQL statement for a natural-language question given
// schema context. Implementations must be safe for concurrent use.
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, question, schemaContext string) (GenerateResult, error)
}

// GenerateResult carries the drafted SQL and the token usage the upstream
// call consumed, for rate accounting.
type GenerateResult struct {
	SQL          string
	InputTokens  int
	OutputTokens int
}

// systemPrompt constrains the model to read-only PostgreSQL over the exposed
// schema. The constraints are repeated by the validators downstream; the
// prompt just raises the odds of a usable first draft.
const systemPrompt = `You are a PostgreSQL query generator for a manufacturing analytics database.
Rules:
- Generate exactly ONE read-only SELECT statement (WITH/CTE allowed).
- Use only the tables and columns in the provided schema.
- Never use INSERT, UPDATE, DELETE, DROP, or any other mutating statement.
- Always include a LIMIT clause.
- Return only the SQL, no explanation.`

// BuildPrompt assembles the user message from schema context and question.
func BuildPrompt(question, schemaContext string) string {
	var b strings.Builder
	b.WriteString(schemaContext)
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nSQL:")
	return b.String()
}
