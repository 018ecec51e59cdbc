package relay

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FallbackPrefix marks ids built from the source chat and message id, as
// msg_<chat>_<message>. Ad numbers are digits only, so the two id spaces
// cannot overlap.
const FallbackPrefix = "msg_"

var adNumberPattern = regexp.MustCompile(`🔖 آگهی شماره #(\d+)`)

// Event is an inbound channel post.
type Event struct {
	ChatID    int64
	MessageID int
	Text      string
	Caption   string
}

type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeCreated
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	}
	return "ignored"
}

// ExtractAdNumber returns the digits of the first ad-number marker in s.
func ExtractAdNumber(s string) (string, bool) {
	m := adNumberPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// PostID derives the post id for ev. Text is searched when present,
// otherwise the caption.
func PostID(ev Event) string {
	body := ev.Text
	if body == "" {
		body = ev.Caption
	}
	if n, ok := ExtractAdNumber(body); ok {
		return n
	}
	return FallbackPrefix + strconv.FormatInt(ev.ChatID, 10) + "_" + strconv.Itoa(ev.MessageID)
}

// MessageLink builds the t.me/c permalink of a message in a private
// supergroup or channel.
func MessageLink(chatID int64, messageID int) string {
	return fmt.Sprintf("https://t.me/c/%s/%d",
		strings.TrimPrefix(strconv.FormatInt(chatID, 10), "-100"), messageID)
}

// Classifier turns channel posts from registered sources into posts.
type Classifier struct {
	store Store
	now   func() time.Time
}

func NewClassifier(store Store) *Classifier {
	return &Classifier{store: store, now: time.Now}
}

// Classify persists ev as a post. Events from unregistered chats are
// ignored, and a post id that already exists is reported as a duplicate
// without touching the stored post. Only store failures return an error.
func (c *Classifier) Classify(ctx context.Context, ev Event) (Outcome, Post, error) {
	ok, err := c.store.HasSource(ctx, ev.ChatID)
	if err != nil {
		return OutcomeIgnored, Post{}, fmt.Errorf("check source %d: %w", ev.ChatID, err)
	}
	if !ok {
		return OutcomeIgnored, Post{}, nil
	}

	p := Post{
		ID:         PostID(ev),
		SourceRef:  ev.ChatID,
		MessageRef: ev.MessageID,
		Link:       MessageLink(ev.ChatID, ev.MessageID),
		Active:     true,
		CreatedAt:  c.now().UTC(),
	}
	inserted, err := c.store.InsertPost(ctx, p)
	if err != nil {
		return OutcomeIgnored, p, fmt.Errorf("insert post %s: %w", p.ID, err)
	}
	if !inserted {
		return OutcomeDuplicate, p, nil
	}
	return OutcomeCreated, p, nil
}
