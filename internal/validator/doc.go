// Package validator checks that inbound request bodies are well-formed JSON
// before they are admitted for routing. It does not check any schema.
package validator
