package artifact

// Artifact names. The public ones can be fetched through the API; inputs are
// kept for the worker only.
const (
	BaselineOriginal   = "baseline_original"
	CurrentUnaligned   = "current_unaligned"
	CurrentAligned     = "current_aligned"
	AlignmentOverlay   = "alignment_overlay"
	BaselineNormalized = "baseline_normalized"
	CurrentNormalized  = "current_normalized"
	AnnotatedBaseline  = "annotated_baseline"
	AnnotatedCurrent   = "annotated_current"
	Metadata           = "metadata"

	InputBaseline = "input_baseline"
	InputCurrent  = "input_current"
)

var public = map[string]string{
	BaselineOriginal:   "image/png",
	CurrentUnaligned:   "image/png",
	CurrentAligned:     "image/png",
	AlignmentOverlay:   "image/png",
	BaselineNormalized: "image/png",
	CurrentNormalized:  "image/png",
	AnnotatedBaseline:  "image/png",
	AnnotatedCurrent:   "image/png",
	Metadata:           "application/json",
}

// Public reports whether name is a retrievable artifact.
func Public(name string) bool {
	_, ok := public[name]
	return ok
}

// ContentType returns the MIME type of a public artifact.
func ContentType(name string) string {
	if ct, ok := public[name]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Filename is the download name of an artifact.
func Filename(jobID, name string) string {
	if name == Metadata {
		return jobID + "_metadata.json"
	}
	return jobID + "_" + name + ".png"
}
