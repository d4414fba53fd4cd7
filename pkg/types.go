package pkg

// Role identifies which side of the doctor/patient relationship a session
// belongs to.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Patient is the record stored under users/<uid>.  LinkedDoctorUID is empty
// until the patient is linked, either at signup or by backfill.
type Patient struct {
	UID             string `json:"uid,omitempty"`
	Fullname        string `json:"fullname"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	InviteCode      string `json:"invite_code"`
	LinkedDoctorUID string `json:"linkedDoctorUID,omitempty"`
}

// Doctor is the record stored under doctors/<uid>.
type Doctor struct {
	UID        string `json:"uid,omitempty"`
	Email      string `json:"email"`
	InviteCode string `json:"inviteCode"`
}

// Turn is one exchange in the conversation log.
type Turn struct {
	User string `json:"user"`
	AI   string `json:"ai"`
}

// DirectMessage is one entry of the shared doctor/patient thread.  Timestamp
// is milliseconds since the epoch, assigned by the store.
type DirectMessage struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Chart is a labels/data pair rendered as a chart on the doctor dashboard.
// Labels and Data are expected to have equal length.
type Chart struct {
	Labels []string  `json:"labels"`
	Data   []float64 `json:"data"`
}

type Highlight struct {
	Message   string `json:"message"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

type CriticalFlag struct {
	Message   string  `json:"message"`
	Category  string  `json:"category"`
	Severity  float64 `json:"severity"`
	Timestamp string  `json:"timestamp"`
}

type Keyword struct {
	Term  string  `json:"term"`
	Count float64 `json:"count"`
}

type EmojiCount struct {
	Emoji string  `json:"emoji"`
	Count float64 `json:"count"`
}

// Snapshot is the structured clinical analytics produced for one patient.
// Its JSON key set is a fixed contract with the analysis model and the
// dashboard.
type Snapshot struct {
	Summary             string         `json:"summary"`
	MoodTimeline        Chart          `json:"moodTimeline"`
	Activity            Chart          `json:"activity"`
	UrgencyDistribution Chart          `json:"urgencyDistribution"`
	EmotionRadar        Chart          `json:"emotionRadar"`
	Highlights          []Highlight    `json:"highlights"`
	CriticalFlags       []CriticalFlag `json:"criticalFlags"`
	Keywords            []Keyword      `json:"keywords"`
	EmojiCloud          []EmojiCount   `json:"emojiCloud"`
}

// ChatRequest is the body of any endpoint accepting a single free-text message.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the assistant reply for one turn.
type ChatResponse struct {
	Response string `json:"response"`
}

// PatientSignup is the body of the patient signup endpoint.
type PatientSignup struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Fullname   string `json:"fullname"`
	Username   string `json:"username"`
	Phone      string `json:"phone"`
	InviteCode string `json:"invite_code"`
}

// DoctorSignup is the body of the doctor signup endpoint.
type DoctorSignup struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	InviteCode string `json:"inviteCode"`
}

// Credentials is the body of both login endpoints.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned after a successful login.  The token is also set
// as the session cookie.
type LoginResponse struct {
	Token string `json:"token"`
	UID   string `json:"uid"`
	Role  Role   `json:"role"`
}
