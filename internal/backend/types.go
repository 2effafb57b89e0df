package backend

// User is the /api/me payload.
type User struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Credits    int    `json:"credits"`
	Tier       string `json:"tier"`
	IsAdmin    bool   `json:"is_admin"`
	IsVerified bool   `json:"is_verified"`
}

// ChartFile is an image ready to be uploaded.
type ChartFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// AnalyzeRequest carries the analyze-chart form fields.
type AnalyzeRequest struct {
	Filename     string
	Timeframe    string
	AnalysisType string
	Lang         string
}

// AnalyzeResponse is a successful analyze-chart reply.
// Analysis is kept as decoded JSON because its shape varies per tier and
// per backend revision.
type AnalyzeResponse struct {
	Status           string
	Analysis         any
	RemainingCredits *int
	TierMode         string

	// Envelope holds every top-level field of the reply, for legacy
	// fallbacks that live outside the analysis object.
	Envelope map[string]any
}

// RegisterRequest is the JSON body for account creation.
type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FullName        string `json:"full_name"`
	Phone           string `json:"phone,omitempty"`
	WhatsApp        string `json:"whatsapp,omitempty"`
	Country         string `json:"country,omitempty"`
	Tier            string `json:"tier,omitempty"`
}

// RemoteAnalysis is one entry of the server-side analysis history.
type RemoteAnalysis struct {
	ID        int64  `json:"id"`
	Symbol    string `json:"symbol"`
	Signal    string `json:"signal"`
	Reason    string `json:"reason"`
	Timeframe string `json:"timeframe"`
	CreatedAt string `json:"created_at,omitempty"`
}
