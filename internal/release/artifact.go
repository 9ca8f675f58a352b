package release

// BuildArtifact is one distributable file produced by a target build job.
// It is immutable once created; ownership transfers to the publisher for
// upload. SignaturePath points at the detached update signature emitted by
// the bundler next to the artifact, empty when none was produced.
type BuildArtifact struct {
	Target        TargetDescriptor
	Path          string
	MediaType     string
	SignaturePath string
}

// PublishedAsset is the orchestrator's local record of an uploaded artifact.
// It is reconstructed from the upload response; the pipeline never reads host
// state back except to delete stale entries.
type PublishedAsset struct {
	Name      string
	URL       string
	Checksum  string // hex sha256 of the uploaded bytes
	Size      int64
	Signature string // content of the detached signature, if any
}
