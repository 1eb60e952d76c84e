package domain

// =============================================================================
// Raw Source Records
// =============================================================================
//
// Raw records mirror the loosely-shaped documents of the source tables. Every
// optional field is a pointer or zero-able value; the normalizer is the only
// place that validates them.

// Source table names.
const (
	TableProfiles      = "investor_prod"
	TableConversations = "InvestorLoginHistory_Prod"
	TableTestSeries    = "User_Infinite_TestSeries_Prod"
	TableTestRecords   = "TestSereiesRecord_Prod"
	TableLearning      = "LearningRecord_Prod"
	TableCoursePlans   = "ICP_Prod"
	TableLoginSessions = "LoginSessions_Prod"
)

// RawProfile is a dashboard profile document.
type RawProfile struct {
	Email           string `bson:"email" json:"email"`
	FirstName       string `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName        string `bson:"last_name,omitempty" json:"last_name,omitempty"`
	Subscription    string `bson:"Subscription,omitempty" json:"Subscription,omitempty"`
	Grade           string `bson:"grade,omitempty" json:"grade,omitempty"`
	Avatar          string `bson:"avatar,omitempty" json:"avatar,omitempty"`
	ExpiredPassword bool   `bson:"expiredPassword,omitempty" json:"expiredPassword,omitempty"`
	CreatedAt       string `bson:"created_at,omitempty" json:"created_at,omitempty"`
	Timezone        string `bson:"tz,omitempty" json:"tz,omitempty"`
}

// RawTurn is one exchange in a conversation transcript.
type RawTurn struct {
	User string `bson:"user,omitempty" json:"user,omitempty"`
	Bot  string `bson:"bot,omitempty" json:"bot,omitempty"`
}

// RawConversation is one stored transcript.
type RawConversation struct {
	Email     string    `bson:"email" json:"email"`
	Timestamp string    `bson:"timestamp" json:"timestamp"`
	Avatar    string    `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Turns     []RawTurn `bson:"chat_history" json:"chat_history"`
}

// RawTestResponse is one answered question. Response and CorrectResponse are
// numbers or strings depending on the table.
type RawTestResponse struct {
	Question        string `bson:"Question,omitempty" json:"Question,omitempty"`
	Response        any    `bson:"Response,omitempty" json:"Response,omitempty"`
	CorrectResponse any    `bson:"Correct_Response,omitempty" json:"Correct_Response,omitempty"`
	Topic           string `bson:"Topic,omitempty" json:"Topic,omitempty"`
}

// RawTestRecord is a test series or test record document.
type RawTestRecord struct {
	Email           string                       `bson:"email" json:"email"`
	SeriesID        string                       `bson:"series_id,omitempty" json:"series_id,omitempty"`
	SeriesTitle     string                       `bson:"series_title,omitempty" json:"series_title,omitempty"`
	Name            string                       `bson:"name,omitempty" json:"name,omitempty"`
	Subject         string                       `bson:"Subject,omitempty" json:"Subject,omitempty"`
	Topic           string                       `bson:"topic,omitempty" json:"topic,omitempty"`
	Responses       map[string][]RawTestResponse `bson:"Response,omitempty" json:"Response,omitempty"`
	TotalQuestions  *int                         `bson:"Total_Question,omitempty" json:"Total_Question,omitempty"`
	CurrentPosition *int                         `bson:"current_Position,omitempty" json:"current_Position,omitempty"`
	LastTrigger     string                       `bson:"Last_Trigger,omitempty" json:"Last_Trigger,omitempty"`
	Table           string                       `bson:"-" json:"-"`
}

// RawSlideProgress is one start/end marker inside a learning record.
type RawSlideProgress struct {
	Trigger     string `bson:"trigger,omitempty" json:"trigger,omitempty"`
	SlideNumber int    `bson:"slide_number,omitempty" json:"slide_number,omitempty"`
	Chapter     string `bson:"chapter,omitempty" json:"chapter,omitempty"`
	TotalLength int    `bson:"total_length,omitempty" json:"total_length,omitempty"`
	IsCompleted bool   `bson:"isCompleted,omitempty" json:"isCompleted,omitempty"`
}

// RawLearningRecord is a presentation usage document.
type RawLearningRecord struct {
	Email          string                        `bson:"email" json:"email"`
	PresentationID string                        `bson:"presentation_id" json:"presentation_id"`
	Name           string                        `bson:"name,omitempty" json:"name,omitempty"`
	Responses      map[string][]RawSlideProgress `bson:"Response,omitempty" json:"Response,omitempty"`
}

// RawSection is one section of an ICP lesson.
type RawSection struct {
	ID     string `bson:"id" json:"id"`
	Order  *int   `bson:"order,omitempty" json:"order,omitempty"`
	Status bool   `bson:"status" json:"status"`
}

// RawLesson is one lesson of a course plan.
type RawLesson struct {
	LessonID string       `bson:"lesson_id,omitempty" json:"lesson_id,omitempty"`
	Title    string       `bson:"title,omitempty" json:"title,omitempty"`
	Order    *int         `bson:"order,omitempty" json:"order,omitempty"`
	Sections []RawSection `bson:"sections" json:"sections"`
}

// RawCoursePlan is an individualized course plan document.
type RawCoursePlan struct {
	Email     string      `bson:"email" json:"email"`
	CourseID  string      `bson:"course_id" json:"course_id"`
	Title     string      `bson:"title,omitempty" json:"title,omitempty"`
	Subject   string      `bson:"subject,omitempty" json:"subject,omitempty"`
	UpdatedAt string      `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
	Lessons   []RawLesson `bson:"lessons" json:"lessons"`
}

// RawLoginSession is a login history row.
type RawLoginSession struct {
	Email      string `bson:"email" json:"email"`
	SessionID  string `bson:"session_id,omitempty" json:"session_id,omitempty"`
	LoginTime  string `bson:"login_time,omitempty" json:"login_time,omitempty"`
	LogoutTime string `bson:"logout_time,omitempty" json:"logout_time,omitempty"`
	Device     string `bson:"device,omitempty" json:"device,omitempty"`
	IPAddress  string `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	UserAgent  string `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// UserRawData groups every raw record of one user.
type UserRawData struct {
	Email         string              `json:"email"`
	Profile       *RawProfile         `json:"profile,omitempty"`
	Conversations []RawConversation   `json:"conversations,omitempty"`
	TestSeries    []RawTestRecord     `json:"test_series,omitempty"`
	TestRecords   []RawTestRecord     `json:"test_records,omitempty"`
	Learning      []RawLearningRecord `json:"learning_records,omitempty"`
	CoursePlans   []RawCoursePlan     `json:"course_plans,omitempty"`
	LoginSessions []RawLoginSession   `json:"login_sessions,omitempty"`
}

// RawDataSummary is a count-only view of a user's raw data.
type RawDataSummary struct {
	Email           string `json:"user_email"`
	HasProfile      bool   `json:"has_profile"`
	Conversations   int    `json:"conversations"`
	TestAttempts    int    `json:"test_attempts"`
	LearningRecords int    `json:"learning_records"`
	CoursePlans     int    `json:"course_plans"`
	LoginSessions   int    `json:"login_sessions"`
}

// Summary counts the records per category.
func (d *UserRawData) Summary() RawDataSummary {
	return RawDataSummary{
		Email:           d.Email,
		HasProfile:      d.Profile != nil,
		Conversations:   len(d.Conversations),
		TestAttempts:    len(d.TestSeries) + len(d.TestRecords),
		LearningRecords: len(d.Learning),
		CoursePlans:     len(d.CoursePlans),
		LoginSessions:   len(d.LoginSessions),
	}
}
