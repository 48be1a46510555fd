// Package runlock provides the advisory lock taken before any destructive
// phase. Only one quarantine, restore or purge may run per environment.
package runlock
