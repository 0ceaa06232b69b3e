package handler

// Form parameters for the staged-conversion endpoint (the worker's callback
// surface). Filename is a bare name inside the shared directory, never a
// path.
type ConvertStagedParams struct {
	Filename       string `validate:"required,max=255"`
	LoOptions      string `validate:"omitempty,max=512"`
	DeleteOriginal bool
}

// Form parameters shared by the upload-driven endpoints.
type ConvertParams struct {
	LoOptions string `validate:"omitempty,max=512"`
}
