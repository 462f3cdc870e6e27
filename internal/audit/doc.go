// Package audit writes an append-only JSONL record of every session
// operation: who asked, what was asked, the outcome and how long it took.
package audit
