// Package events carries finalizer notifications on one shared channel.
// Publishers write JSON messages; listeners relay them verbatim to every
// subscriber of a Hub.
package events
