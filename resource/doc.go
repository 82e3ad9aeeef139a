// Package resource throttles background retention work: a semaphore for
// concurrent compaction passes, an optional memory budget for
// reconstruction buffers, and a token-bucket IO limit for checkpoint
// writes. A nil *Controller is valid and imposes no limits.
package resource
