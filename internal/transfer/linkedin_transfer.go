package transfer

type LinkedinUserInfo struct {
	Sub        string `json:"sub"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
	Email      string `json:"email"`
}

type LinkedinInitUploadRequest struct {
	InitializeUploadRequest LinkedinInitUploadOwner `json:"initializeUploadRequest"`
}

type LinkedinInitUploadOwner struct {
	Owner           string `json:"owner"`
	FileSizeBytes   int64  `json:"fileSizeBytes,omitempty"`
	UploadCaptions  bool   `json:"uploadCaptions,omitempty"`
	UploadThumbnail bool   `json:"uploadThumbnail,omitempty"`
}

type LinkedinInitUploadResponse struct {
	Value LinkedinInitUploadValue `json:"value"`
}

// LinkedinInitUploadValue covers both the image one-shot shape (UploadURL,
// Image) and the video chunked shape (UploadInstructions, Video, UploadToken).
type LinkedinInitUploadValue struct {
	UploadURL          string                      `json:"uploadUrl"`
	Image              string                      `json:"image"`
	Video              string                      `json:"video"`
	UploadToken        string                      `json:"uploadToken"`
	UploadInstructions []LinkedinUploadInstruction `json:"uploadInstructions"`
}

type LinkedinUploadInstruction struct {
	UploadURL string `json:"uploadUrl"`
	FirstByte int64  `json:"firstByte"`
	LastByte  int64  `json:"lastByte"`
}

type LinkedinFinalizeUploadRequest struct {
	FinalizeUploadRequest LinkedinFinalizeUpload `json:"finalizeUploadRequest"`
}

type LinkedinFinalizeUpload struct {
	Video           string   `json:"video"`
	UploadToken     string   `json:"uploadToken"`
	UploadedPartIds []string `json:"uploadedPartIds"`
}

type LinkedinPostRequest struct {
	Author         string               `json:"author"`
	Commentary     string               `json:"commentary"`
	Visibility     string               `json:"visibility"`
	Distribution   LinkedinDistribution `json:"distribution"`
	Content        *LinkedinContent     `json:"content,omitempty"`
	LifecycleState string               `json:"lifecycleState"`
}

type LinkedinDistribution struct {
	FeedDistribution string `json:"feedDistribution"`
}

type LinkedinContent struct {
	Media *LinkedinMedia `json:"media,omitempty"`
}

type LinkedinMedia struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type LinkedinErrorResponse struct {
	Message       string `json:"message"`
	ServiceError  int    `json:"serviceErrorCode"`
	Status        int    `json:"status"`
	ErrorDetailed string `json:"error"`
}
