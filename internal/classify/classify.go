// Package classify maps one inbound Telegram message to a normalized
// payload: a content kind tag, extracted text, media metadata, forward
// provenance, and any service sub-events. It performs no I/O, so every
// branch is unit-testable in isolation. Classification never fails; any
// structurally unexpected input degrades to nil fields or an "unknown"
// kind label.
package classify

import (
	"path"
	"regexp"
	"strings"

	"github.com/go-telegram/bot/models"
)

// Kind is the coarse category of an inbound message.
type Kind string

// Coarse categories. Media messages additionally carry the concrete media
// label (photo, video, ...) in Result.Label.
const (
	KindText    Kind = "text"
	KindMedia   Kind = "media"
	KindService Kind = "service"
	KindOther   Kind = "other"
)

// Media kind labels, stored in the messages.type column.
const (
	LabelPhoto     = "photo"
	LabelVideo     = "video"
	LabelDocument  = "document"
	LabelAudio     = "audio"
	LabelVoice     = "voice"
	LabelVideoNote = "video_note"
	LabelSticker   = "sticker"
	LabelAnimation = "animation"
)

// Service event type tags, stored in the events.type column.
const (
	EventMemberJoined  = "member_joined"
	EventMemberLeft    = "member_left"
	EventTitleChanged  = "title_changed"
	EventMessagePinned = "message_pinned"
)

// Result is the normalized payload extracted from one inbound message.
type Result struct {
	Kind  Kind
	Label string // concrete type tag for the messages.type column

	Text        *string // text, or caption for media
	FileID      *string
	Meta        map[string]any
	ReplyTo     *int64
	ForwardFrom *int64
	ForwardName *string

	Services []ServiceEvent // populated only for KindService
}

// ServiceEvent is one semantic sub-event of a service message. A single
// "new members" message fans out to one ServiceEvent per added member.
type ServiceEvent struct {
	Type     string
	UserID   *int64
	Member   *models.User // member to upsert, set for member_joined
	NewTitle string       // set for title_changed, triggers a chat upsert
	Data     map[string]any
}

// Classify inspects msg and produces its normalized payload. Media kinds
// win over text (a captioned photo is a photo), service fields win over
// everything else, and anything unrecognized degrades to KindOther with a
// stringified kind label as the text.
func Classify(msg *models.Message) Result {
	res := Result{}
	if msg == nil {
		res.Kind = KindOther
		res.Label = "unknown"
		return res
	}

	res.ReplyTo = replyTo(msg)
	res.ForwardFrom, res.ForwardName = ForwardOrigin(msg)

	if svc := ServiceEvents(msg); len(svc) > 0 {
		res.Kind = KindService
		res.Label = string(KindService)
		res.Services = svc
		return res
	}

	fileID, meta, label := MediaMeta(msg)
	if fileID != nil {
		res.Kind = KindMedia
		res.Label = label
		res.FileID = fileID
		res.Meta = meta
		if msg.Caption != "" {
			res.Text = ptr(msg.Caption)
		}
		return res
	}

	if msg.Text != "" {
		res.Kind = KindText
		res.Label = string(KindText)
		res.Text = ptr(msg.Text)
		return res
	}

	res.Kind = KindOther
	res.Label = string(KindOther)
	res.Text = ptr(label)
	return res
}

// ForwardOrigin extracts forward provenance from msg. Exactly one of the
// four origin kinds applies: an identifiable user (id and name), a hidden
// user (name only), a chat acting as sender, or a channel (both id and
// title). Absent or unrecognized origins yield (nil, nil).
func ForwardOrigin(msg *models.Message) (originID *int64, originName *string) {
	origin := msg.ForwardOrigin
	if origin == nil {
		return nil, nil
	}

	switch origin.Type {
	case models.MessageOriginTypeUser:
		if o := origin.MessageOriginUser; o != nil {
			return ptr(o.SenderUser.ID), ptr(FullName(&o.SenderUser))
		}
	case models.MessageOriginTypeHiddenUser:
		if o := origin.MessageOriginHiddenUser; o != nil {
			return nil, ptr(o.SenderUserName)
		}
	case models.MessageOriginTypeChat:
		if o := origin.MessageOriginChat; o != nil {
			return ptr(o.SenderChat.ID), ptr(o.SenderChat.Title)
		}
	case models.MessageOriginTypeChannel:
		if o := origin.MessageOriginChannel; o != nil {
			return ptr(o.Chat.ID), ptr(o.Chat.Title)
		}
	}

	return nil, nil
}

// MediaMeta determines the concrete media kind of msg and extracts its
// kind-specific metadata record. Each kind has its own field set; there is
// no generic superset. Optional source fields that are absent are omitted
// from the map rather than stored as nulls. For multi-resolution photos the
// largest available size is selected. A message with no recognized media
// returns (nil, nil, <stringified kind label>).
func MediaMeta(msg *models.Message) (fileID *string, meta map[string]any, label string) {
	switch {
	case len(msg.Photo) > 0:
		photo := largestPhoto(msg.Photo)
		meta = map[string]any{
			"width":  photo.Width,
			"height": photo.Height,
		}
		putNonZero(meta, "size", photo.FileSize)
		return ptr(photo.FileID), meta, LabelPhoto

	case msg.Video != nil:
		v := msg.Video
		meta = map[string]any{
			"duration": v.Duration,
			"width":    v.Width,
			"height":   v.Height,
		}
		putNonZero(meta, "size", v.FileSize)
		putNonEmpty(meta, "mime", v.MimeType)
		putNonEmpty(meta, "name", v.FileName)
		return ptr(v.FileID), meta, LabelVideo

	case msg.Document != nil:
		d := msg.Document
		meta = map[string]any{}
		putNonZero(meta, "size", d.FileSize)
		putNonEmpty(meta, "mime", d.MimeType)
		putNonEmpty(meta, "name", d.FileName)
		return ptr(d.FileID), meta, LabelDocument

	case msg.Audio != nil:
		a := msg.Audio
		meta = map[string]any{
			"duration": a.Duration,
		}
		putNonZero(meta, "size", a.FileSize)
		putNonEmpty(meta, "mime", a.MimeType)
		putNonEmpty(meta, "name", a.FileName)
		return ptr(a.FileID), meta, LabelAudio

	case msg.Voice != nil:
		v := msg.Voice
		meta = map[string]any{
			"duration": v.Duration,
		}
		putNonZero(meta, "size", v.FileSize)
		putNonEmpty(meta, "mime", v.MimeType)
		return ptr(v.FileID), meta, LabelVoice

	case msg.VideoNote != nil:
		vn := msg.VideoNote
		meta = map[string]any{
			"duration": vn.Duration,
			"length":   vn.Length,
		}
		putNonZero(meta, "size", vn.FileSize)
		return ptr(vn.FileID), meta, LabelVideoNote

	case msg.Sticker != nil:
		s := msg.Sticker
		meta = map[string]any{
			"width":  s.Width,
			"height": s.Height,
		}
		putNonEmpty(meta, "emoji", s.Emoji)
		putNonEmpty(meta, "set_name", s.SetName)
		return ptr(s.FileID), meta, LabelSticker

	case msg.Animation != nil:
		a := msg.Animation
		meta = map[string]any{
			"duration": a.Duration,
			"width":    a.Width,
			"height":   a.Height,
		}
		putNonZero(meta, "size", a.FileSize)
		putNonEmpty(meta, "mime", a.MimeType)
		putNonEmpty(meta, "name", a.FileName)
		return ptr(a.FileID), meta, LabelAnimation
	}

	return nil, nil, contentLabel(msg)
}

// ServiceEvents expands a service message into its semantic sub-events.
// One "new members" message yields one member_joined event per member;
// every other category yields exactly one event.
func ServiceEvents(msg *models.Message) []ServiceEvent {
	switch {
	case len(msg.NewChatMembers) > 0:
		events := make([]ServiceEvent, 0, len(msg.NewChatMembers))
		for i := range msg.NewChatMembers {
			member := &msg.NewChatMembers[i]
			events = append(events, ServiceEvent{
				Type:   EventMemberJoined,
				UserID: ptr(member.ID),
				Member: member,
				Data: map[string]any{
					"username":   nullable(member.Username),
					"first_name": nullable(member.FirstName),
				},
			})
		}
		return events

	case msg.LeftChatMember != nil:
		member := msg.LeftChatMember
		return []ServiceEvent{{
			Type:   EventMemberLeft,
			UserID: ptr(member.ID),
			Data: map[string]any{
				"username":   nullable(member.Username),
				"first_name": nullable(member.FirstName),
			},
		}}

	case msg.NewChatTitle != "":
		return []ServiceEvent{{
			Type:     EventTitleChanged,
			UserID:   senderID(msg),
			NewTitle: msg.NewChatTitle,
			Data: map[string]any{
				"new_title": msg.NewChatTitle,
			},
		}}

	case msg.PinnedMessage != nil:
		return []ServiceEvent{{
			Type:   EventMessagePinned,
			UserID: senderID(msg),
			Data: map[string]any{
				"pinned_message_id": pinnedMessageID(msg.PinnedMessage),
			},
		}}
	}

	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFileName strips directory components from a possibly
// attacker-influenced filename and replaces every character outside
// [A-Za-z0-9_.-] with '_'. The result never escapes the target directory
// and the function is idempotent.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		return "_"
	}
	return name
}

// FullName joins a user's first and last name.
func FullName(u *models.User) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// contentLabel names non-media content kinds the recorder does not fully
// model, so unknown messages still leave a readable trace.
func contentLabel(msg *models.Message) string {
	switch {
	case msg.Text != "":
		return string(KindText)
	case msg.Contact != nil:
		return "contact"
	case msg.Location != nil:
		return "location"
	case msg.Venue != nil:
		return "venue"
	case msg.Poll != nil:
		return "poll"
	case msg.Story != nil:
		return "story"
	}
	return "unknown"
}

func largestPhoto(sizes []models.PhotoSize) *models.PhotoSize {
	best := &sizes[0]
	bestArea := best.Width * best.Height
	for i := range sizes[1:] {
		p := &sizes[i+1]
		if area := p.Width * p.Height; area > bestArea {
			best = p
			bestArea = area
		}
	}
	return best
}

func pinnedMessageID(pinned *models.MaybeInaccessibleMessage) any {
	switch {
	case pinned.Message != nil:
		return pinned.Message.ID
	case pinned.InaccessibleMessage != nil:
		return pinned.InaccessibleMessage.MessageID
	}
	return nil
}

func replyTo(msg *models.Message) *int64 {
	if msg.ReplyToMessage == nil {
		return nil
	}
	return ptr(int64(msg.ReplyToMessage.ID))
}

func senderID(msg *models.Message) *int64 {
	if msg.From == nil {
		return nil
	}
	return ptr(msg.From.ID)
}

func putNonZero[T int | int64](meta map[string]any, key string, v T) {
	if v != 0 {
		meta[key] = v
	}
}

func putNonEmpty(meta map[string]any, key, v string) {
	if v != "" {
		meta[key] = v
	}
}

// nullable maps the empty string to an explicit null so event data blobs
// record field absence the same way the platform does.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ptr[T any](v T) *T {
	return &v
}
