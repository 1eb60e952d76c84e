// Package normalize turns raw source records into a time-ordered event list.
package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/pkg/logger"

	"github.com/google/uuid"
)

var (
	breakTagPattern = regexp.MustCompile(`<break[^>]*/?>`)
	anyTagPattern   = regexp.MustCompile(`<[^>]+?>`)
)

// Normalizer converts heterogeneous raw records into uniform events.
type Normalizer struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the clock used for unparsable timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(gen func() string) Option {
	return func(n *Normalizer) { n.newID = gen }
}

func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns every event of the user sorted ascending by timestamp.
// Malformed records are skipped with a warning.
func (n *Normalizer) Normalize(data *domain.UserRawData) []domain.Event {
	if data == nil {
		return nil
	}
	email := domain.NormalizeEmail(data.Email)
	if email == "" && data.Profile != nil {
		email = domain.NormalizeEmail(data.Profile.Email)
	}
	log := logger.WithField("user_email", email)
	now := n.now()

	var events []domain.Event
	collect := func(kind string, idx int, fn func() ([]domain.Event, error)) {
		evs, err := safely(fn)
		if err != nil {
			log.WithError(err).WithField("record", idx).Warn("skipping malformed %s record", kind)
			return
		}
		events = append(events, evs...)
	}

	if data.Profile != nil {
		collect("profile", 0, func() ([]domain.Event, error) {
			return n.profileEvents(email, data.Profile, now)
		})
	}
	for i := range data.Conversations {
		rec := &data.Conversations[i]
		collect("conversation", i, func() ([]domain.Event, error) {
			return n.conversationEvents(email, rec, now)
		})
	}
	for i := range data.TestSeries {
		rec := &data.TestSeries[i]
		collect("test series", i, func() ([]domain.Event, error) {
			return n.testEvents(email, rec, domain.TableTestSeries, now)
		})
	}
	for i := range data.TestRecords {
		rec := &data.TestRecords[i]
		collect("test record", i, func() ([]domain.Event, error) {
			return n.testEvents(email, rec, domain.TableTestRecords, now)
		})
	}
	for i := range data.Learning {
		rec := &data.Learning[i]
		collect("learning", i, func() ([]domain.Event, error) {
			return n.learningEvents(email, rec, now)
		})
	}
	for i := range data.CoursePlans {
		rec := &data.CoursePlans[i]
		collect("course plan", i, func() ([]domain.Event, error) {
			return n.courseEvents(email, rec, now)
		})
	}
	for i := range data.LoginSessions {
		rec := &data.LoginSessions[i]
		collect("login session", i, func() ([]domain.Event, error) {
			return n.loginEvents(email, rec, now)
		})
	}

	SortEvents(events)
	return events
}

// SortEvents orders events ascending by timestamp, keeping source order on ties.
func SortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

func safely(fn func() ([]domain.Event, error)) (evs []domain.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			evs, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (n *Normalizer) event(email string, ts time.Time, source domain.EventSource, sessionID string, props domain.EventProps) domain.Event {
	return domain.Event{
		EventID:   n.newID(),
		UserID:    email,
		Timestamp: ts,
		Name:      props.EventName(),
		Source:    source,
		SessionID: sessionID,
		Props:     props,
	}
}

// =============================================================================
// Per-source mappings
// =============================================================================

func (n *Normalizer) profileEvents(email string, p *domain.RawProfile, now time.Time) ([]domain.Event, error) {
	if email == "" {
		email = domain.NormalizeEmail(p.Email)
	}
	if email == "" {
		return nil, fmt.Errorf("profile without email")
	}
	ts, _ := ParseTimestamp(p.CreatedAt, now)
	return []domain.Event{n.event(email, ts, domain.SourceDashboard, "", domain.ProfileProps{
		Email:        email,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Plan:         p.Subscription,
		Grade:        p.Grade,
		Avatar:       p.Avatar,
		ConsentEmail: !p.ExpiredPassword,
	})}, nil
}

func (n *Normalizer) conversationEvents(email string, c *domain.RawConversation, now time.Time) ([]domain.Event, error) {
	if email == "" {
		email = domain.NormalizeEmail(c.Email)
	}
	if email == "" {
		return nil, fmt.Errorf("conversation without email")
	}
	ts, _ := ParseTimestamp(c.Timestamp, now)
	sessionID := SessionID(email, c.Timestamp)

	var events []domain.Event
	for i, turn := range c.Turns {
		if text := strings.TrimSpace(turn.User); text != "" {
			events = append(events, n.event(email, ts, domain.SourceWeb, sessionID, domain.ConvoProps{
				Role: domain.RoleUser, Text: text, Avatar: c.Avatar, Turn: i,
			}))
		}
		if text := StripSSML(turn.Bot); text != "" {
			events = append(events, n.event(email, ts, domain.SourceWeb, sessionID, domain.ConvoProps{
				Role: domain.RoleAI, Text: text, Avatar: c.Avatar, Turn: i,
			}))
		}
	}
	return events, nil
}

func (n *Normalizer) testEvents(email string, r *domain.RawTestRecord, table string, now time.Time) ([]domain.Event, error) {
	if email == "" {
		email = domain.NormalizeEmail(r.Email)
	}
	if email == "" {
		return nil, fmt.Errorf("test record without email")
	}
	seriesID := r.SeriesID
	if seriesID == "" {
		seriesID = r.Name
	}
	title := r.SeriesTitle
	if title == "" {
		title = r.Name
	}

	embedded := make(map[string][]domain.TestResponse, len(r.Responses))
	for ts, list := range r.Responses {
		converted := make([]domain.TestResponse, 0, len(list))
		for _, resp := range list {
			converted = append(converted, domain.TestResponse{
				Question:        resp.Question,
				Response:        scalarString(resp.Response),
				CorrectResponse: scalarString(resp.CorrectResponse),
				Topic:           resp.Topic,
			})
		}
		embedded[ts] = converted
	}

	var events []domain.Event
	if r.TotalQuestions != nil && r.CurrentPosition != nil && r.LastTrigger != "" {
		if last, ok := ParseTimestamp(r.LastTrigger, now); ok {
			events = append(events, n.event(email, last, domain.SourceWeb, "", domain.TestSessionProps{
				SeriesID:        seriesID,
				Title:           title,
				Subject:         r.Subject,
				TotalQuestions:  *r.TotalQuestions,
				CurrentPosition: *r.CurrentPosition,
				Table:           table,
			}))
		}
	}

	idx := 0
	for _, rawTS := range sortedKeys(embedded) {
		ts, _ := ParseTimestamp(rawTS, now)
		for _, resp := range embedded[rawTS] {
			topic := resp.Topic
			if topic == "" {
				topic = r.Topic
			}
			events = append(events, n.event(email, ts, domain.SourceWeb, "", domain.TestAttemptProps{
				SeriesID:    seriesID,
				SeriesTitle: title,
				Subject:     r.Subject,
				Topic:       topic,
				Question:    resp.Question,
				IsCorrect:   resp.IsCorrect(),
				Index:       idx,
				Responses:   embedded,
				Table:       table,
			}))
			idx++
		}
	}
	return events, nil
}

func (n *Normalizer) learningEvents(email string, r *domain.RawLearningRecord, now time.Time) ([]domain.Event, error) {
	if email == "" {
		email = domain.NormalizeEmail(r.Email)
	}
	if r.PresentationID == "" {
		return nil, fmt.Errorf("learning record without presentation_id")
	}

	var events []domain.Event
	for _, rawTS := range sortedKeys(r.Responses) {
		ts, _ := ParseTimestamp(rawTS, now)
		for _, prog := range r.Responses[rawTS] {
			events = append(events, n.event(email, ts, domain.SourceWeb, "", domain.PresentationProps{
				PresentationID:   r.PresentationID,
				PresentationName: r.Name,
				Trigger:          strings.ToLower(strings.TrimSpace(prog.Trigger)),
				SlideNumber:      prog.SlideNumber,
				Chapter:          prog.Chapter,
				TotalLength:      prog.TotalLength,
				IsCompleted:      prog.IsCompleted,
			}))
		}
	}
	return events, nil
}

func (n *Normalizer) courseEvents(email string, r *domain.RawCoursePlan, now time.Time) ([]domain.Event, error) {
	if email == "" {
		email = domain.NormalizeEmail(r.Email)
	}
	if r.CourseID == "" && r.Title == "" {
		return nil, fmt.Errorf("course plan without id or title")
	}
	plan := *r
	if plan.CourseID == "" {
		plan.CourseID = plan.Title
	}
	ts, _ := ParseTimestamp(plan.UpdatedAt, now)
	return []domain.Event{n.event(email, ts, domain.SourceBatch, "", DeriveCourseProgress(plan))}, nil
}

func (n *Normalizer) loginEvents(email string, r *domain.RawLoginSession, now time.Time) ([]domain.Event, error) {
	if email == "" {
		email = domain.NormalizeEmail(r.Email)
	}
	if r.LoginTime == "" {
		return nil, fmt.Errorf("login session without login_time")
	}
	start, ok := ParseTimestamp(r.LoginTime, now)
	if !ok {
		return nil, fmt.Errorf("unparsable login_time %q", r.LoginTime)
	}
	sessionID := r.SessionID
	if sessionID == "" {
		sessionID = SessionID(email, r.LoginTime)
	}
	base := domain.LoginProps{
		SessionID: sessionID,
		Device:    r.Device,
		IPHash:    HashIP(r.IPAddress),
		UserAgent: r.UserAgent,
	}

	startProps := base
	startProps.Marker = "start"
	events := []domain.Event{n.event(email, start, domain.SourceWeb, sessionID, startProps)}

	if r.LogoutTime != "" {
		if end, ok := ParseTimestamp(r.LogoutTime, now); ok {
			endProps := base
			endProps.Marker = "end"
			events = append(events, n.event(email, end, domain.SourceWeb, sessionID, endProps))
		}
	}
	return events, nil
}

// StripSSML removes speech markup from assistant text.
func StripSSML(text string) string {
	if text == "" {
		return ""
	}
	cleaned := breakTagPattern.ReplaceAllString(text, "")
	cleaned = anyTagPattern.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

func scalarString(v any) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = x
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		s = strconv.Itoa(x)
	case int32:
		s = strconv.FormatInt(int64(x), 10)
	case int64:
		s = strconv.FormatInt(x, 10)
	case bool:
		s = strconv.FormatBool(x)
	default:
		s = fmt.Sprint(x)
	}
	return &s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
