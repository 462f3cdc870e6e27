// Package journal keeps a persistent log of the messages the bridge sent
// and received, backed by BadgerDB.
package journal
