// Package reconcile diffs expected references against stored objects.
package reconcile
