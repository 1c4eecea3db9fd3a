// Package llm defines the provider-neutral client used by capability
// handlers. Provider adapters live in sub-packages (gemini, openai) and only
// speak plain text; shaping results into task payloads is left to callers.
package llm
