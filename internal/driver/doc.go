// Package driver keeps the inventory of modem engine drivers.
//
// The manager knows which drivers are installed, which protocols and sample
// rates each can serve, and which one backs the next session. Sessions
// obtain engines through Manager.NewEngine, so switching the active driver
// only takes effect on the next initialize.
package driver
