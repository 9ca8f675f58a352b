package release

import (
	"time"

	"github.com/google/uuid"
)

// Channel distinguishes stable tagged releases from scheduled pre-releases.
type Channel string

const (
	ChannelStable  Channel = "stable"
	ChannelNightly Channel = "nightly"
)

// Context carries the immutable facts of one release: the tag being
// released, the host-side release identifier, and the human-readable notes.
// It is created once from the trigger event and passed read-only into every
// pipeline component.
type Context struct {
	ID        string
	Tag       string
	Notes     string
	Channel   Channel
	CreatedAt time.Time
}

// NewContext builds a release context from a trigger event. An empty id gets
// a generated one so event records and logs can always correlate a run.
func NewContext(id, tag, notes string) Context {
	if id == "" {
		id = uuid.NewString()
	}
	return Context{
		ID:        id,
		Tag:       tag,
		Notes:     notes,
		Channel:   ChannelStable,
		CreatedAt: time.Now().UTC(),
	}
}

// NewNightlyContext builds a context for a scheduled pre-release build.
func NewNightlyContext(tag string) Context {
	ctx := NewContext("", tag, "Automated nightly pre-release build.")
	ctx.Channel = ChannelNightly
	return ctx
}

// Version returns the version string used in the update manifest: the tag
// without a leading "v".
func (c Context) Version() string {
	if len(c.Tag) > 1 && c.Tag[0] == 'v' {
		return c.Tag[1:]
	}
	return c.Tag
}
